package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
	"indicator-service/internal/surface"
	"indicator-service/internal/types"
)

// Mock Controller
type mockController struct {
	mu       sync.Mutex
	calls    []string
	ack      surface.Ack
	err      error
	latest   types.Snapshot
	interval time.Duration
}

func (m *mockController) record(name, transport string) (surface.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name+"/"+transport)
	return m.ack, m.err
}

func (m *mockController) ForceStop(ctx context.Context, transport string) (surface.Ack, error) {
	return m.record("stop", transport)
}

func (m *mockController) ForceResume(ctx context.Context, transport string) (surface.Ack, error) {
	return m.record("resume", transport)
}

func (m *mockController) CycleInterval(ctx context.Context, transport string) (surface.Ack, error) {
	return m.record("interval", transport)
}

func (m *mockController) Latest() (types.Snapshot, time.Duration) {
	return m.latest, m.interval
}

func (m *mockController) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func newTestServer(t *testing.T, ctrl *mockController) (*Server, *httptest.Server) {
	t.Helper()
	m := metrics.New()
	l := logger.Discard()
	s := NewServer("127.0.0.1:0", ctrl, NewHub(ctrl, l, m), m, l)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		ts.Close()
	})
	return s, ts
}

func TestStateEndpoint(t *testing.T) {
	ctrl := &mockController{
		latest:   types.Snapshot{Mode: types.ModeRunning, RotationIndex: 1},
		interval: 500 * time.Millisecond,
	}
	_, ts := newTestServer(t, ctrl)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var state StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if state.Mode != "running" || state.Rotation != 1 || state.Pattern != "0,1,0" || state.IntervalMs != 500 {
		t.Errorf("Unexpected state %+v", state)
	}
	if state.Changed != nil {
		t.Error("Expected no changed field on plain state")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected CORS header, got %q", got)
	}
}

func TestForceStopEndpoint(t *testing.T) {
	ctrl := &mockController{
		ack: surface.Ack{
			Snapshot: types.Snapshot{Mode: types.ModeStopped, StopRemaining: 15 * time.Second},
			Changed:  true,
		},
	}
	_, ts := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var state StateResponse
	json.NewDecoder(resp.Body).Decode(&state)
	if state.Mode != "stopped" || state.Pattern != "0,0,0" || state.StopRemainingMs != 15000 {
		t.Errorf("Unexpected response %+v", state)
	}
	if state.Changed == nil || !*state.Changed {
		t.Error("Expected changed=true")
	}
	if calls := ctrl.callList(); len(calls) != 1 || calls[0] != "stop/http" {
		t.Errorf("Unexpected calls %v", calls)
	}
}

func TestUnavailableController(t *testing.T) {
	ctrl := &mockController{err: errors.New("loop stalled")}
	_, ts := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestPreflight(t *testing.T) {
	_, ts := newTestServer(t, &mockController{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/stop", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Expected allowed methods header, got %q", got)
	}
}

func TestNotFound(t *testing.T) {
	_, ts := newTestServer(t, &mockController{})

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Endpoint not found") {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestLegacyPaths(t *testing.T) {
	ctrl := &mockController{
		ack: surface.Ack{Snapshot: types.Snapshot{Mode: types.ModeStopped, StopRemaining: 15 * time.Second}},
	}
	_, ts := newTestServer(t, ctrl)

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/stopLEDs", http.StatusOK, "LEDs will stop for 15 seconds."},
		{"/simulateRemote", http.StatusOK, "Simulated remote button press."},
		{"/changeInterval", http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		resp, err := http.Get(ts.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", tc.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != tc.status || string(body) != tc.body {
			t.Errorf("%s: got %d %q, expected %d %q", tc.path, resp.StatusCode, body, tc.status, tc.body)
		}
	}

	want := []string{"stop/http", "resume/http", "interval/http"}
	calls := ctrl.callList()
	for i := range want {
		if i >= len(calls) || calls[i] != want[i] {
			t.Fatalf("Expected calls %v, got %v", want, calls)
		}
	}
}

func TestIndexAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, &mockController{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "/ws") {
		t.Error("Expected control page to open the WebSocket")
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "indicator_stopped") {
		t.Error("Expected indicator metrics in /metrics output")
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	return string(msg)
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		got := len(h.clients)
		h.mu.Unlock()
		if got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d clients, have %d", n, got)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s, ts := newTestServer(t, &mockController{})

	s.hub.Publish(types.Snapshot{Mode: types.ModeRunning, RotationIndex: 0})
	conn := dialWS(t, ts)

	// latest flags are sent on connect
	if got := readText(t, conn); got != "1,0,0" {
		t.Errorf("Expected 1,0,0 on connect, got %q", got)
	}

	// unchanged flags are not rebroadcast
	s.hub.Publish(types.Snapshot{Mode: types.ModeRunning, RotationIndex: 0})
	s.hub.Publish(types.Snapshot{Mode: types.ModeRunning, RotationIndex: 1})
	if got := readText(t, conn); got != "0,1,0" {
		t.Errorf("Expected 0,1,0, got %q", got)
	}

	s.hub.Publish(types.Snapshot{Mode: types.ModeStopped, RotationIndex: 1})
	if got := readText(t, conn); got != "0,0,0" {
		t.Errorf("Expected 0,0,0, got %q", got)
	}
}

func TestWebSocketCommands(t *testing.T) {
	ctrl := &mockController{}
	s, ts := newTestServer(t, ctrl)
	conn := dialWS(t, ts)
	waitClients(t, s.hub, 1)

	for _, msg := range []string{"stop", "bogus", "resume"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ctrl.callList()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for commands, got %v", ctrl.callList())
		}
		time.Sleep(time.Millisecond)
	}
	calls := ctrl.callList()
	if calls[0] != "stop/websocket" || calls[1] != "resume/websocket" {
		t.Errorf("Unexpected calls %v", calls)
	}
}

func TestWebSocketDisconnect(t *testing.T) {
	s, ts := newTestServer(t, &mockController{})
	conn := dialWS(t, ts)
	waitClients(t, s.hub, 1)

	conn.Close()
	waitClients(t, s.hub, 0)
}
