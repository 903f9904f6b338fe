// Package command implements the single-byte command protocol exchanged
// with the peer device over the serial link.
package command

import "fmt"

// Command is one of the closed set of link codes. The value is the byte
// that goes on the wire; there is no header, length or checksum.
type Command byte

const (
	Off  Command = 0x0A
	On   Command = 0x14
	Ack  Command = 0x28 // reserved
	Stop Command = 0x42
)

// Encode returns the wire byte for c.
func Encode(c Command) byte {
	return byte(c)
}

// Decode maps a wire byte to a command. ok is false for any byte outside
// the closed set.
func Decode(b byte) (c Command, ok bool) {
	switch Command(b) {
	case Off, On, Ack, Stop:
		return Command(b), true
	}
	return 0, false
}

func (c Command) String() string {
	switch c {
	case Off:
		return "off"
	case On:
		return "on"
	case Ack:
		return "ack"
	case Stop:
		return "stop"
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(c))
}
