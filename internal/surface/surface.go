// Package surface lets outer transports (HTTP, WebSocket, Redis) drive the
// device without touching the state machine. Requests are queued to the
// poll loop, which executes them and replies with an Ack.
package surface

import (
	"context"
	"errors"
	"sync"
	"time"

	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
	"indicator-service/internal/types"
)

type Kind int

const (
	KindStop Kind = iota
	KindResume
	KindInterval
)

func (k Kind) String() string {
	switch k {
	case KindStop:
		return "stop"
	case KindResume:
		return "resume"
	case KindInterval:
		return "interval"
	}
	return "unknown"
}

// ErrQueueFull is returned when the loop is too far behind to accept
// another request.
var ErrQueueFull = errors.New("surface request queue full")

const DefaultQueueSize = 16

// Ack is the loop's reply to a request.
type Ack struct {
	Snapshot types.Snapshot
	// Changed is true when the request caused a mode transition.
	Changed bool
	// Interval is the rotation interval after the request.
	Interval time.Duration
}

type Request struct {
	Kind      Kind
	Transport string

	reply chan Ack
}

// Publisher receives the projected snapshot once per loop iteration.
type Publisher interface {
	Publish(s types.Snapshot)
}

// Handler executes a request on the loop goroutine.
type Handler func(r Request) Ack

type Adapter struct {
	queue chan Request
	// owned by the Dispatch caller
	deferred []Request
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	latest   types.Snapshot
	interval time.Duration
}

func New(queueSize int, l *logger.Logger, m *metrics.Metrics) *Adapter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Adapter{
		queue:   make(chan Request, queueSize),
		logger:  l,
		metrics: m,
	}
}

// ForceStop stops the device and sends Stop to the peer.
func (a *Adapter) ForceStop(ctx context.Context, transport string) (Ack, error) {
	return a.submit(ctx, KindStop, transport)
}

// ForceResume resumes the device and sends On to the peer.
func (a *Adapter) ForceResume(ctx context.Context, transport string) (Ack, error) {
	return a.submit(ctx, KindResume, transport)
}

// CycleInterval slows the rotation by one step, wrapping at the slowest.
func (a *Adapter) CycleInterval(ctx context.Context, transport string) (Ack, error) {
	return a.submit(ctx, KindInterval, transport)
}

func (a *Adapter) submit(ctx context.Context, kind Kind, transport string) (Ack, error) {
	req := Request{
		Kind:      kind,
		Transport: transport,
		reply:     make(chan Ack, 1),
	}

	select {
	case a.queue <- req:
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	default:
		a.logger.Warnf("Rejected %s request from %s: queue full", kind, transport)
		return Ack{}, ErrQueueFull
	}
	a.metrics.SurfaceRequests.WithLabelValues(kind.String(), transport).Inc()

	select {
	case ack := <-req.reply:
		return ack, nil
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// Dispatch handles queued requests without blocking and returns how many
// were handled. Only the poll loop calls it. Each transport gets at most one
// stop or resume per call; later requests from that transport wait for the
// next call, in order.
func (a *Adapter) Dispatch(h Handler) int {
	pending := a.deferred
	a.deferred = nil
drain:
	for len(pending) < cap(a.queue) {
		select {
		case req := <-a.queue:
			pending = append(pending, req)
		default:
			break drain
		}
	}

	n := 0
	switched := make(map[string]bool)
	held := make(map[string]bool)
	for _, req := range pending {
		transition := req.Kind == KindStop || req.Kind == KindResume
		if held[req.Transport] || (transition && switched[req.Transport]) {
			held[req.Transport] = true
			a.deferred = append(a.deferred, req)
			continue
		}
		if transition {
			switched[req.Transport] = true
		}

		ack := h(req)
		// reply is buffered; a caller that gave up never blocks the loop
		req.reply <- ack
		n++
	}
	return n
}

// Queued returns how many requests are waiting in the queue. Requests held
// over by Dispatch are not counted.
func (a *Adapter) Queued() int {
	return len(a.queue)
}

// Publish records the latest projected snapshot for readers of Latest.
func (a *Adapter) Publish(s types.Snapshot) {
	a.mu.Lock()
	a.latest = s
	a.mu.Unlock()
}

// SetInterval records the rotation interval currently in effect.
func (a *Adapter) SetInterval(d time.Duration) {
	a.mu.Lock()
	a.interval = d
	a.mu.Unlock()
}

// Latest returns the last published snapshot and rotation interval.
func (a *Adapter) Latest() (types.Snapshot, time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest, a.interval
}
