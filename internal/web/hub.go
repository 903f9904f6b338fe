package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
	"indicator-service/internal/types"
)

const (
	clientQueueSize = 8
	writeTimeout    = 100 * time.Millisecond
	pingInterval    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan string
}

// Hub pushes the indicator flags ("1,0,0") to every connected WebSocket
// client whenever they change. Clients may send "stop", "resume" or
// "interval" as text messages.
type Hub struct {
	ctrl    Controller
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	last    string
	closed  bool
}

func NewHub(ctrl Controller, l *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		ctrl:    ctrl,
		logger:  l,
		metrics: m,
		clients: make(map[*client]struct{}),
	}
}

// Publish broadcasts the snapshot's flags if they differ from the last
// broadcast. It never blocks: a client whose queue is full misses the
// update.
func (h *Hub) Publish(s types.Snapshot) {
	flags := s.Pattern().Flags()

	h.mu.Lock()
	defer h.mu.Unlock()

	if flags == h.last {
		return
	}
	h.last = flags

	for c := range h.clients {
		select {
		case c.send <- flags:
		default:
			h.logger.Debugf("Client queue full, skipping broadcast")
		}
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("Error upgrading to websocket from %s: %v", r.RemoteAddr, err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan string, clientQueueSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != "" {
		c.send <- h.last
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.WebClients.Set(float64(n))
	h.logger.Infof("WebSocket client connected from %s", r.RemoteAddr)

	go h.writer(c)
	go h.reader(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.WebClients.Set(float64(n))
}

func (h *Hub) reader(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.logger.Infof("WebSocket client disconnected")
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnf("Error reading websocket message: %v", err)
			}
			return
		}
		h.handleMessage(string(msg))
	}
}

func (h *Hub) handleMessage(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch msg {
	case "stop":
		_, err = h.ctrl.ForceStop(ctx, transportWS)
	case "resume":
		_, err = h.ctrl.ForceResume(ctx, transportWS)
	case "interval":
		_, err = h.ctrl.CycleInterval(ctx, transportWS)
	default:
		h.logger.Debugf("Ignoring websocket message %q", msg)
		return
	}
	if err != nil {
		h.logger.Warnf("WebSocket %s request failed: %v", msg, err)
	}
}

func (h *Hub) writer(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutdown"))
				c.conn.Close()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				h.logger.Debugf("Error writing to websocket: %v", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.metrics.WebClients.Set(0)
}
