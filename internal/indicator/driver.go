// Package indicator projects the device state onto the indicator outputs.
// It holds no decision logic of its own.
package indicator

import (
	"sync"
	"time"

	"indicator-service/internal/device"
	"indicator-service/internal/logger"
	"indicator-service/internal/types"
)

// Rotator is the part of the state machine the driver needs.
type Rotator interface {
	TickRotation(now time.Duration) bool
	Snapshot() types.Snapshot
}

// Cached forwards patterns to the hardware only when they change. The state
// machine and the driver share one instance so both see the same last
// written pattern.
type Cached struct {
	mu    sync.Mutex
	next  device.Outputs
	last  types.Pattern
	valid bool
}

func NewCached(next device.Outputs) *Cached {
	return &Cached{next: next}
}

func (c *Cached) Apply(p types.Pattern) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.last == p {
		return nil
	}
	if err := c.next.Apply(p); err != nil {
		c.valid = false
		return err
	}
	c.last = p
	c.valid = true
	return nil
}

// Last returns the last pattern written successfully.
func (c *Cached) Last() (types.Pattern, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.valid
}

type Driver struct {
	rotator Rotator
	outputs device.Outputs
	logger  *logger.Logger
}

func NewDriver(rotator Rotator, outputs device.Outputs, l *logger.Logger) *Driver {
	return &Driver{
		rotator: rotator,
		outputs: outputs,
		logger:  l,
	}
}

// Tick advances the rotation if due and writes the resulting pattern. The
// returned snapshot is the one that was projected.
func (d *Driver) Tick(now time.Duration) types.Snapshot {
	d.rotator.TickRotation(now)
	s := d.rotator.Snapshot()
	if err := d.outputs.Apply(s.Pattern()); err != nil {
		d.logger.Warnf("Failed to apply indicator pattern %s: %v", s.Pattern().Flags(), err)
	}
	return s
}
