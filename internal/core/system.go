// Package core runs the poll loop that owns the device state machine and
// connects it to the button, the peer link, the indicators and the
// external surface.
package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"indicator-service/internal/command"
	"indicator-service/internal/debounce"
	"indicator-service/internal/device"
	"indicator-service/internal/indicator"
	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
	"indicator-service/internal/surface"
	"indicator-service/internal/types"
)

const DefaultPollInterval = 10 * time.Millisecond

// Trigger sources, used for logging and metric labels
const (
	sourceButton     = "button"
	sourcePeer       = "peer"
	sourceAutoResume = "auto-resume"
)

type Options struct {
	StopDuration     time.Duration
	RotationInterval time.Duration
	DebounceWindow   time.Duration
	PollInterval     time.Duration
}

type System struct {
	machine *device.Machine
	input   *debounce.Input
	channel *command.Channel
	outputs *indicator.Cached
	driver  *indicator.Driver
	surface *surface.Adapter

	publishers []surface.Publisher

	io      HardwareIO
	clock   Clock
	metrics *metrics.Metrics
	logger  *logger.Logger

	pollInterval time.Duration
	heartbeat    atomic.Int64
}

func NewSystem(opts Options, io HardwareIO, link command.ByteLink, adapter *surface.Adapter, clk Clock, m *metrics.Metrics, l *logger.Logger) *System {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	outputs := indicator.NewCached(io)
	machine := device.New(device.Config{
		StopDuration:     opts.StopDuration,
		RotationInterval: opts.RotationInterval,
	}, outputs, l.WithTag("device"))

	return &System{
		machine:      machine,
		input:        debounce.New(opts.DebounceWindow),
		channel:      command.NewChannel(link, l.WithTag("command"), m),
		outputs:      outputs,
		driver:       indicator.NewDriver(machine, outputs, l.WithTag("indicator")),
		surface:      adapter,
		io:           io,
		clock:        clk,
		metrics:      m,
		logger:       l,
		pollInterval: opts.PollInterval,
	}
}

// AddPublisher registers p to receive every projected snapshot. Must be
// called before Run.
func (s *System) AddPublisher(p surface.Publisher) {
	s.publishers = append(s.publishers, p)
}

// Start initializes the hardware and projects the initial state.
func (s *System) Start() error {
	s.logger.Infof("Starting indicator system (stop %v, rotation %v, debounce %v)",
		s.machine.StopDuration(), s.machine.RotationInterval(), s.input.Window())

	if err := s.io.Initialize(s.input.MarkEdge); err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}

	s.project(s.clock.Now())
	return nil
}

// Run executes the poll loop until ctx is cancelled.
func (s *System) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Infof("Poll loop running every %v", s.pollInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Poll loop stopped")
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step runs one loop iteration: input, peer commands, surface requests,
// auto-resume, then projection.
func (s *System) Step() {
	now := s.clock.Now()

	s.pollButton(now)
	s.channel.Poll(func(c command.Command) {
		s.handleCommand(now, c)
	})
	s.surface.Dispatch(func(r surface.Request) surface.Ack {
		return s.handleRequest(now, r)
	})
	s.checkAutoResume(now)
	s.project(now)

	s.heartbeat.Store(time.Now().UnixNano())
}

// Heartbeat returns the wall time of the last completed iteration.
func (s *System) Heartbeat() time.Time {
	ns := s.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Shutdown blanks the indicators and releases the hardware.
func (s *System) Shutdown() {
	s.logger.Infof("Shutting down indicator system")
	if err := s.io.Apply(types.Pattern{}); err != nil {
		s.logger.Warnf("Failed to blank indicators: %v", err)
	}
	s.io.Cleanup()
}

func (s *System) pollButton(now time.Duration) {
	switch s.input.Poll() {
	case debounce.None:
		return
	case debounce.Suppressed:
		s.logger.Debugf("Button edge suppressed by debounce window")
		s.metrics.ButtonActivations.WithLabelValues(debounce.Suppressed.String()).Inc()
		return
	}

	if s.machine.Mode() == types.ModeStopped {
		s.logger.Debugf("Button activation ignored while stopped")
		s.metrics.ButtonActivations.WithLabelValues("ignored").Inc()
		return
	}

	s.metrics.ButtonActivations.WithLabelValues(debounce.Accepted.String()).Inc()
	s.logger.Infof("Button pressed, stopping indicators")
	if s.machine.RequestStop(now) {
		s.metrics.Transitions.WithLabelValues(string(types.ModeStopped), sourceButton).Inc()
	}
	s.channel.Send(command.Stop)
}

func (s *System) handleCommand(now time.Duration, c command.Command) {
	switch c {
	case command.Stop:
		if s.machine.RequestStop(now) {
			s.metrics.Transitions.WithLabelValues(string(types.ModeStopped), sourcePeer).Inc()
		}
	case command.On:
		if s.machine.RequestResume() {
			s.metrics.Transitions.WithLabelValues(string(types.ModeRunning), sourcePeer).Inc()
		}
	default:
		s.logger.Infof("Peer sent %s, no action", c)
	}
}

func (s *System) handleRequest(now time.Duration, r surface.Request) surface.Ack {
	var changed bool

	switch r.Kind {
	case surface.KindStop:
		changed = s.machine.RequestStop(now)
		if changed {
			s.metrics.Transitions.WithLabelValues(string(types.ModeStopped), r.Transport).Inc()
		}
		s.channel.Send(command.Stop)
	case surface.KindResume:
		changed = s.machine.RequestResume()
		if changed {
			s.metrics.Transitions.WithLabelValues(string(types.ModeRunning), r.Transport).Inc()
		}
		s.channel.Send(command.On)
	case surface.KindInterval:
		s.machine.CycleRotationInterval()
	default:
		s.logger.Warnf("Unknown surface request %d from %s", r.Kind, r.Transport)
	}

	s.logger.Debugf("Handled %s request from %s (changed=%v)", r.Kind, r.Transport, changed)
	return surface.Ack{
		Snapshot: s.snapshot(now),
		Changed:  changed,
		Interval: s.machine.RotationInterval(),
	}
}

func (s *System) snapshot(now time.Duration) types.Snapshot {
	snap := s.machine.Snapshot()
	if deadline, ok := s.machine.Deadline(); ok && deadline > now {
		snap.StopRemaining = deadline - now
	}
	return snap
}

func (s *System) project(now time.Duration) {
	snap := s.driver.Tick(now)
	if deadline, ok := s.machine.Deadline(); ok && deadline > now {
		snap.StopRemaining = deadline - now
	}

	s.metrics.Observe(snap)
	s.surface.Publish(snap)
	s.surface.SetInterval(s.machine.RotationInterval())
	for _, p := range s.publishers {
		p.Publish(snap)
	}
}
