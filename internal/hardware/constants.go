package hardware

// Consumer is the label shown for our lines in gpioinfo.
const Consumer = "indicator-service"

// Default wiring: three indicator LEDs and one push button (to ground, so
// the line is pulled up and a press is a falling edge).
const (
	DefaultChip       = "gpiochip0"
	DefaultButtonLine = 4
)

var DefaultLedLines = []int{17, 27, 22}
