package link

import "indicator-service/internal/command"

// Null is the link used when no serial device is configured: nothing is
// ever received and every send is refused with command.ErrLinkDisabled.
type Null struct{}

func (Null) RecvByte() (byte, bool) { return 0, false }

func (Null) SendByte(b byte) error { return command.ErrLinkDisabled }
