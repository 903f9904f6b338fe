// Package debounce turns raw button edges into logical activations.
//
// The edge handler runs outside the poll loop (it is the stand-in for an
// interrupt) and does exactly one thing: an atomic store of the edge
// timestamp. All decisions happen in Poll, on the loop goroutine.
package debounce

import (
	"sync/atomic"
	"time"
)

// DefaultWindow is the refractory window between accepted activations.
const DefaultWindow = 200 * time.Millisecond

type Outcome int

const (
	// None means no edge was pending.
	None Outcome = iota
	// Accepted means the pending edge is a new logical activation.
	Accepted
	// Suppressed means the pending edge fell inside the refractory window.
	Suppressed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Suppressed:
		return "suppressed"
	}
	return "none"
}

type Input struct {
	// pending holds the last edge timestamp, zero when nothing is pending.
	pending atomic.Int64

	window       time.Duration
	lastAccepted time.Duration
	hasAccepted  bool
}

func New(window time.Duration) *Input {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Input{window: window}
}

// MarkEdge records an edge at ts. Safe to call from any goroutine; later
// edges overwrite earlier ones that were not polled yet.
func (in *Input) MarkEdge(ts time.Duration) {
	if ts <= 0 {
		ts = 1
	}
	in.pending.Store(int64(ts))
}

// Pending reports whether an edge is waiting to be polled.
func (in *Input) Pending() bool {
	return in.pending.Load() != 0
}

// Poll consumes the pending edge, if any. The marker is cleared whatever
// the outcome.
func (in *Input) Poll() Outcome {
	raw := in.pending.Swap(0)
	if raw == 0 {
		return None
	}
	ts := time.Duration(raw)

	if in.hasAccepted && ts-in.lastAccepted < in.window {
		return Suppressed
	}

	in.lastAccepted = ts
	in.hasAccepted = true
	return Accepted
}

func (in *Input) Window() time.Duration {
	return in.window
}
