// Package web serves the control page, the JSON API, the WebSocket push
// channel and the Prometheus endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
	"indicator-service/internal/surface"
	"indicator-service/internal/types"
)

const (
	transportHTTP = "http"
	transportWS   = "websocket"

	requestTimeout = 2 * time.Second
)

// Controller is the surface adapter as seen by the web layer.
type Controller interface {
	ForceStop(ctx context.Context, transport string) (surface.Ack, error)
	ForceResume(ctx context.Context, transport string) (surface.Ack, error)
	CycleInterval(ctx context.Context, transport string) (surface.Ack, error)
	Latest() (types.Snapshot, time.Duration)
}

type Server struct {
	ctrl    Controller
	hub     *Hub
	metrics *metrics.Metrics
	logger  *logger.Logger

	router *mux.Router
	http   *http.Server
}

// StateResponse is the JSON form of a snapshot.
type StateResponse struct {
	Mode            string `json:"mode"`
	Rotation        int    `json:"rotation"`
	Pattern         string `json:"pattern"`
	StopRemainingMs int64  `json:"stopRemainingMs"`
	IntervalMs      int64  `json:"intervalMs"`
	Changed         *bool  `json:"changed,omitempty"`
}

func NewServer(addr string, ctrl Controller, hub *Hub, m *metrics.Metrics, l *logger.Logger) *Server {
	s := &Server{
		ctrl:    ctrl,
		hub:     hub,
		metrics: m,
		logger:  l,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	api.HandleFunc("/resume", s.handleResume).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/interval", s.handleInterval).Methods(http.MethodPost, http.MethodOptions)

	// Paths served by the original firmware pages
	r.HandleFunc("/stopLEDs", s.handleLegacyStop).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	r.HandleFunc("/simulateRemote", s.handleLegacyResume).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	r.HandleFunc("/changeInterval", s.handleLegacyInterval).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)

	r.HandleFunc("/ws", s.hub.ServeWS)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = corsMiddleware(http.HandlerFunc(notFound))
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	s.logger.Infof("HTTP server listening on %s", ln.Addr())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("HTTP server failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Endpoint not found"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newStateResponse(snap types.Snapshot, interval time.Duration) StateResponse {
	return StateResponse{
		Mode:            string(snap.Mode),
		Rotation:        snap.RotationIndex,
		Pattern:         snap.Pattern().Flags(),
		StopRemainingMs: snap.StopRemaining.Milliseconds(),
		IntervalMs:      interval.Milliseconds(),
	}
}

type requestFunc func(ctx context.Context, transport string) (surface.Ack, error)

// submit runs fn against the poll loop and reports failures as 503.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, fn requestFunc) (surface.Ack, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ack, err := fn(ctx, transportHTTP)
	if err != nil {
		s.logger.Warnf("HTTP %s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return surface.Ack{}, false
	}
	return ack, true
}

func (s *Server) respondAck(w http.ResponseWriter, ack surface.Ack) {
	resp := newStateResponse(ack.Snapshot, ack.Interval)
	changed := ack.Changed
	resp.Changed = &changed
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if ack, ok := s.submit(w, r, s.ctrl.ForceStop); ok {
		s.respondAck(w, ack)
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if ack, ok := s.submit(w, r, s.ctrl.ForceResume); ok {
		s.respondAck(w, ack)
	}
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	if ack, ok := s.submit(w, r, s.ctrl.CycleInterval); ok {
		s.respondAck(w, ack)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, interval := s.ctrl.Latest()
	writeJSON(w, http.StatusOK, newStateResponse(snap, interval))
}

func (s *Server) handleLegacyStop(w http.ResponseWriter, r *http.Request) {
	ack, ok := s.submit(w, r, s.ctrl.ForceStop)
	if !ok {
		return
	}
	secs := int(ack.Snapshot.StopRemaining.Round(time.Second) / time.Second)
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "LEDs will stop for %d seconds.", secs)
}

func (s *Server) handleLegacyResume(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.submit(w, r, s.ctrl.ForceResume); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "Simulated remote button press.")
}

func (s *Server) handleLegacyInterval(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.submit(w, r, s.ctrl.CycleInterval); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}
