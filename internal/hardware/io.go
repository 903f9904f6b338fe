package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"indicator-service/internal/logger"
	"indicator-service/internal/types"
)

type Config struct {
	Chip       string
	LedLines   []int
	ButtonLine int
	// ActiveLow inverts the LED outputs.
	ActiveLow bool
	// Debounce, if set, enables the kernel debounce filter on the button
	// line in addition to the refractory window applied in software.
	Debounce time.Duration
}

// LinuxHardwareIO drives the indicator LEDs and watches the button through
// the GPIO character device.
type LinuxHardwareIO struct {
	cfg    Config
	logger *logger.Logger

	mu     sync.Mutex
	chip   *gpiocdev.Chip
	leds   *gpiocdev.Lines
	button *gpiocdev.Line
}

func NewLinuxHardwareIO(cfg Config, l *logger.Logger) *LinuxHardwareIO {
	if cfg.Chip == "" {
		cfg.Chip = DefaultChip
	}
	if len(cfg.LedLines) == 0 {
		cfg.LedLines = DefaultLedLines
	}
	return &LinuxHardwareIO{
		cfg:    cfg,
		logger: l,
	}
}

func (io *LinuxHardwareIO) Initialize(onEdge func(ts time.Duration)) error {
	io.mu.Lock()
	defer io.mu.Unlock()

	if len(io.cfg.LedLines) != types.RotationSize {
		return fmt.Errorf("expected %d LED lines, got %d", types.RotationSize, len(io.cfg.LedLines))
	}

	io.logger.Infof("Initializing GPIO on %s", io.cfg.Chip)

	chip, err := gpiocdev.NewChip(io.cfg.Chip, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return fmt.Errorf("failed to open GPIO chip %s: %w", io.cfg.Chip, err)
	}
	io.chip = chip

	ledOpts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0, 0, 0)}
	if io.cfg.ActiveLow {
		ledOpts = append(ledOpts, gpiocdev.AsActiveLow)
	}
	leds, err := chip.RequestLines(io.cfg.LedLines, ledOpts...)
	if err != nil {
		io.closeLocked()
		return fmt.Errorf("failed to request LED lines %v: %w", io.cfg.LedLines, err)
	}
	io.leds = leds
	io.logger.Infof("Configured LEDs: chip=%s, lines=%v", io.cfg.Chip, io.cfg.LedLines)

	btnOpts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			onEdge(evt.Timestamp)
		}),
	}
	if io.cfg.Debounce > 0 {
		btnOpts = append(btnOpts, gpiocdev.WithDebounce(io.cfg.Debounce))
	}
	button, err := chip.RequestLine(io.cfg.ButtonLine, btnOpts...)
	if err != nil {
		io.closeLocked()
		return fmt.Errorf("failed to request button line %d: %w", io.cfg.ButtonLine, err)
	}
	io.button = button
	io.logger.Infof("Configured button: chip=%s, line=%d", io.cfg.Chip, io.cfg.ButtonLine)

	return nil
}

// Apply sets all three LEDs in a single request.
func (io *LinuxHardwareIO) Apply(p types.Pattern) error {
	io.mu.Lock()
	defer io.mu.Unlock()

	if io.leds == nil {
		return fmt.Errorf("LED lines not initialized")
	}
	return io.leds.SetValues(patternValues(p))
}

func (io *LinuxHardwareIO) Cleanup() {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.closeLocked()
}

func (io *LinuxHardwareIO) closeLocked() {
	if io.button != nil {
		io.button.Close()
		io.button = nil
	}
	if io.leds != nil {
		io.leds.Close()
		io.leds = nil
	}
	if io.chip != nil {
		io.chip.Close()
		io.chip = nil
	}
}

func patternValues(p types.Pattern) []int {
	values := make([]int, len(p))
	for i, on := range p {
		if on {
			values[i] = 1
		}
	}
	return values
}
