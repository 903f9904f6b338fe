// Package device holds the running/stopped state machine that every
// trigger source funnels into. It is owned by the poll loop: none of its
// methods are safe for concurrent use, and none of them block or fail.
package device

import (
	"time"

	"indicator-service/internal/logger"
	"indicator-service/internal/types"
)

// Timing defaults
const (
	DefaultStopDuration     = 15 * time.Second
	DefaultRotationInterval = 500 * time.Millisecond

	IntervalStep        = 200 * time.Millisecond
	MinRotationInterval = 200 * time.Millisecond
	MaxRotationInterval = 2000 * time.Millisecond
)

// Outputs receives indicator patterns.
type Outputs interface {
	Apply(p types.Pattern) error
}

type Config struct {
	StopDuration     time.Duration
	RotationInterval time.Duration
}

type Machine struct {
	mode     types.DeviceMode
	rotation int

	deadline    time.Duration
	hasDeadline bool

	// lastRotate is the cadence origin; it is re-armed on the first tick
	// after startup and after every resume.
	lastRotate  time.Duration
	rearmRotate bool

	stopDuration     time.Duration
	rotationInterval time.Duration

	outputs Outputs
	logger  *logger.Logger
}

func New(cfg Config, outputs Outputs, l *logger.Logger) *Machine {
	if cfg.StopDuration <= 0 {
		cfg.StopDuration = DefaultStopDuration
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = DefaultRotationInterval
	}
	return &Machine{
		mode:             types.ModeRunning,
		rearmRotate:      true,
		stopDuration:     cfg.StopDuration,
		rotationInterval: cfg.RotationInterval,
		outputs:          outputs,
		logger:           l,
	}
}

// RequestStop moves a running device to Stopped until now+StopDuration and
// blanks the outputs immediately. While already stopped it does nothing;
// in particular the deadline is never extended. It reports whether a
// transition happened.
func (m *Machine) RequestStop(now time.Duration) bool {
	if m.mode == types.ModeStopped {
		m.logger.Debugf("Stop ignored, already stopped until %v", m.deadline)
		return false
	}

	m.mode = types.ModeStopped
	m.deadline = now + m.stopDuration
	m.hasDeadline = true

	if m.outputs != nil {
		if err := m.outputs.Apply(types.Pattern{}); err != nil {
			m.logger.Warnf("Failed to blank indicators on stop: %v", err)
		}
	}

	m.logger.Infof("State transition: %s -> %s (resume at %v, rotation frozen at %d)",
		types.ModeRunning, types.ModeStopped, m.deadline, m.rotation)
	return true
}

// RequestResume moves a stopped device back to Running, keeping the
// rotation index it had when it stopped. No-op while running.
func (m *Machine) RequestResume() bool {
	if m.mode == types.ModeRunning {
		m.logger.Debugf("Resume ignored, already running")
		return false
	}

	m.mode = types.ModeRunning
	m.deadline = 0
	m.hasDeadline = false
	m.rearmRotate = true

	m.logger.Infof("State transition: %s -> %s (rotation resumes at %d)",
		types.ModeStopped, types.ModeRunning, m.rotation)
	return true
}

// TickRotation advances the rotation index by one when running and a full
// interval has passed since the last advance. The first tick after startup
// or a resume only sets the cadence origin.
func (m *Machine) TickRotation(now time.Duration) bool {
	if m.mode != types.ModeRunning {
		return false
	}
	if m.rearmRotate {
		m.lastRotate = now
		m.rearmRotate = false
		return false
	}
	if now-m.lastRotate < m.rotationInterval {
		return false
	}

	m.lastRotate = now
	m.rotation = (m.rotation + 1) % types.RotationSize
	m.logger.Debugf("Rotation index: %d", m.rotation)
	return true
}

func (m *Machine) Snapshot() types.Snapshot {
	return types.Snapshot{
		Mode:          m.mode,
		RotationIndex: m.rotation,
		StopDeadline:  m.deadline,
	}
}

func (m *Machine) Mode() types.DeviceMode {
	return m.mode
}

// Deadline returns the resume deadline; ok is false while running.
func (m *Machine) Deadline() (deadline time.Duration, ok bool) {
	return m.deadline, m.hasDeadline
}

func (m *Machine) StopDuration() time.Duration {
	return m.stopDuration
}

func (m *Machine) RotationInterval() time.Duration {
	return m.rotationInterval
}

// SetRotationInterval changes the rotation cadence, clamped to the
// supported range. Mode and index are untouched.
func (m *Machine) SetRotationInterval(d time.Duration) time.Duration {
	if d < MinRotationInterval {
		d = MinRotationInterval
	}
	if d > MaxRotationInterval {
		d = MaxRotationInterval
	}
	m.rotationInterval = d
	m.logger.Infof("Rotation interval: %v", d)
	return d
}

// CycleRotationInterval slows the rotation by one step, wrapping back to
// the fastest cadence past the slowest one.
func (m *Machine) CycleRotationInterval() time.Duration {
	next := m.rotationInterval + IntervalStep
	if next > MaxRotationInterval {
		next = MinRotationInterval
	}
	return m.SetRotationInterval(next)
}
