// Package clock provides monotonic clock readings.
//
// Readings are durations since an arbitrary epoch (CLOCK_MONOTONIC), which
// is the same base the kernel uses for GPIO edge event timestamps, so edge
// timestamps and loop readings can be compared directly.
package clock

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type Clock interface {
	Now() time.Duration
}

// Monotonic reads CLOCK_MONOTONIC.
type Monotonic struct{}

func (Monotonic) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always present on Linux
		panic(err)
	}
	return time.Duration(ts.Nano())
}

// Manual is a clock advanced explicitly, for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	return m.now
}

func (m *Manual) Set(now time.Duration) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}
