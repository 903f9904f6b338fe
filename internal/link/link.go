// Package link keeps a serial connection to the peer device open and
// exposes it as a non-blocking byte source and sink.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/librescoot/librefsm"
	"go.bug.st/serial"

	"indicator-service/internal/fsm"
	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
)

// Serial defaults, matching the peer firmware
const (
	DefaultBaudRate  = 115200
	DefaultQueueSize = 64

	readTimeout = 100 * time.Millisecond
)

var (
	ErrNotOpen   = errors.New("peer link not open")
	ErrQueueFull = errors.New("peer link transmit queue full")
)

// Port is the subset of serial.Port the link uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens the named port.
type Opener func(name string, mode *serial.Mode) (Port, error)

// SerialOpener opens a real serial device.
func SerialOpener(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

type Config struct {
	Device     string
	BaudRate   int
	RetryDelay time.Duration
	QueueSize  int
}

// Mode returns the line settings: 8 data bits, even parity, two stop bits.
func (c Config) Mode() *serial.Mode {
	baud := c.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}
}

// PeerLink supervises the serial port with a small state machine and
// implements command.ByteLink on top of it.
type PeerLink struct {
	cfg     Config
	open    Opener
	machine *librefsm.Machine
	logger  *logger.Logger
	metrics *metrics.Metrics

	rx chan byte
	tx chan byte

	mu      sync.Mutex
	pending Port
	port    Port
	session int
	stop    chan struct{}
	// done tracks the reader and writer of the last opened session
	done *sync.WaitGroup
}

// Ensure PeerLink implements fsm.Actions
var _ fsm.Actions = (*PeerLink)(nil)

func New(cfg Config, open Opener, l *logger.Logger, m *metrics.Metrics) (*PeerLink, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if open == nil {
		open = SerialOpener
	}

	p := &PeerLink{
		cfg:     cfg,
		open:    open,
		logger:  l,
		metrics: m,
		rx:      make(chan byte, cfg.QueueSize),
		tx:      make(chan byte, cfg.QueueSize),
	}

	machine, err := fsm.NewDefinition(p, cfg.RetryDelay).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build link state machine: %w", err)
	}
	p.machine = machine

	p.machine.OnStateChange(func(from, to librefsm.StateID) {
		p.logger.Infof("Link state: %s -> %s", from, to)
		for _, s := range fsm.States {
			v := 0.0
			if s == to {
				v = 1
			}
			p.metrics.LinkState.WithLabelValues(string(s)).Set(v)
		}
	})

	return p, nil
}

// Start runs the supervisor until ctx is cancelled.
func (p *PeerLink) Start(ctx context.Context) error {
	if err := p.machine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start link state machine: %w", err)
	}
	p.machine.Send(librefsm.Event{ID: fsm.EvStart})
	return nil
}

// Close stops any running session and closes the port.
func (p *PeerLink) Close() {
	p.closeSession()

	p.mu.Lock()
	if p.pending != nil {
		p.pending.Close()
		p.pending = nil
	}
	done := p.done
	p.mu.Unlock()

	if done != nil {
		done.Wait()
	}
}

func (p *PeerLink) State() librefsm.StateID {
	return p.machine.CurrentState()
}

// RecvByte returns the next received byte without blocking.
func (p *PeerLink) RecvByte() (byte, bool) {
	select {
	case b := <-p.rx:
		return b, true
	default:
		return 0, false
	}
}

func (p *PeerLink) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

// SendByte queues b for the writer without blocking.
func (p *PeerLink) SendByte(b byte) error {
	p.mu.Lock()
	open := p.port != nil
	p.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	select {
	case p.tx <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *PeerLink) EnterConnecting(c *librefsm.Context) error {
	p.mu.Lock()
	p.session++
	session := p.session
	p.mu.Unlock()

	go p.connect(session)
	return nil
}

func (p *PeerLink) connect(session int) {
	port, err := p.open(p.cfg.Device, p.cfg.Mode())
	if err != nil {
		p.logger.Warnf("Failed to open %s: %v", p.cfg.Device, err)
		p.machine.Send(librefsm.Event{ID: fsm.EvOpenFailed})
		return
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		p.logger.Warnf("Failed to set read timeout on %s: %v", p.cfg.Device, err)
		port.Close()
		p.machine.Send(librefsm.Event{ID: fsm.EvOpenFailed})
		return
	}

	p.mu.Lock()
	if session != p.session {
		p.mu.Unlock()
		port.Close()
		return
	}
	p.pending = port
	p.mu.Unlock()

	p.machine.Send(librefsm.Event{ID: fsm.EvOpened})
}

func (p *PeerLink) EnterOpen(c *librefsm.Context) error {
	// the previous writer must be gone before it can race the new one for tx
	p.mu.Lock()
	prev := p.done
	p.mu.Unlock()
	if prev != nil {
		prev.Wait()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	port := p.pending
	p.pending = nil
	if port == nil {
		return ErrNotOpen
	}

	// bytes queued for an earlier session are stale
	for len(p.tx) > 0 {
		<-p.tx
	}

	done := &sync.WaitGroup{}
	p.port = port
	p.stop = make(chan struct{})
	p.done = done
	done.Add(2)
	go p.reader(p.session, port, p.stop, done)
	go p.writer(p.session, port, p.stop, done)

	p.logger.Infof("Opened %s at %d baud", p.cfg.Device, p.cfg.Mode().BaudRate)
	return nil
}

func (p *PeerLink) ExitOpen(c *librefsm.Context) error {
	p.closeSession()
	return nil
}

func (p *PeerLink) EnterBackoff(c *librefsm.Context) error {
	p.logger.Infof("Retrying %s in %v", p.cfg.Device, p.retryDelay())
	return nil
}

func (p *PeerLink) retryDelay() time.Duration {
	if p.cfg.RetryDelay <= 0 {
		return fsm.DefaultRetryDelay
	}
	return p.cfg.RetryDelay
}

func (p *PeerLink) closeSession() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	if p.port != nil {
		if err := p.port.Close(); err != nil {
			p.logger.Debugf("Close %s: %v", p.cfg.Device, err)
		}
		p.port = nil
	}
}

// fail reports an I/O error unless the session has already ended.
func (p *PeerLink) fail(session int, stop <-chan struct{}, err error) {
	select {
	case <-stop:
		return
	default:
	}

	p.mu.Lock()
	current := session == p.session
	p.mu.Unlock()
	if !current {
		return
	}

	p.logger.Warnf("Link error on %s: %v", p.cfg.Device, err)
	p.machine.Send(librefsm.Event{ID: fsm.EvLinkError})
}

func (p *PeerLink) reader(session int, port Port, stop <-chan struct{}, done *sync.WaitGroup) {
	defer done.Done()

	buf := make([]byte, 64)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			p.fail(session, stop, err)
			return
		}
		for _, b := range buf[:n] {
			select {
			case p.rx <- b:
			default:
				p.logger.Warnf("Receive queue full, dropping byte 0x%02X", b)
			}
		}
	}
}

func (p *PeerLink) writer(session int, port Port, stop <-chan struct{}, done *sync.WaitGroup) {
	defer done.Done()

	for {
		select {
		case <-stop:
			return
		case b := <-p.tx:
			if _, err := port.Write([]byte{b}); err != nil {
				p.metrics.LinkDrops.Inc()
				p.fail(session, stop, err)
				return
			}
		}
	}
}
