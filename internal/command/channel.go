package command

import (
	"errors"

	"indicator-service/internal/logger"
	"indicator-service/internal/metrics"
)

// ByteLink is the byte-oriented transport under the channel. Both calls
// must return immediately.
type ByteLink interface {
	// RecvByte returns the next received byte, if one is waiting.
	RecvByte() (byte, bool)
	// SendByte queues b for transmission. An error means the byte was dropped.
	SendByte(b byte) error
}

// ErrLinkDisabled is returned by links that are turned off by
// configuration. Sends to them are not counted as drops.
var ErrLinkDisabled = errors.New("peer link disabled")

// Handler is invoked once for every decoded inbound command.
type Handler func(Command)

// Channel sends and polls commands over a ByteLink. Delivery is best
// effort: nothing is acknowledged, retried or buffered beyond the link.
type Channel struct {
	link    ByteLink
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewChannel(link ByteLink, l *logger.Logger, m *metrics.Metrics) *Channel {
	return &Channel{
		link:    link,
		logger:  l,
		metrics: m,
	}
}

// Send writes c and returns without waiting for anything from the peer.
func (ch *Channel) Send(c Command) {
	if err := ch.link.SendByte(Encode(c)); err != nil {
		if errors.Is(err, ErrLinkDisabled) {
			ch.logger.Debugf("Peer link disabled, not sending %s", c)
			return
		}
		ch.logger.Warnf("Dropped outbound %s command: %v", c, err)
		ch.metrics.LinkDrops.Inc()
		return
	}
	ch.logger.Debugf("Sent command %s (0x%02X)", c, Encode(c))
	ch.metrics.CommandsSent.WithLabelValues(c.String()).Inc()
}

// Poll reads at most one byte. Known commands go to handler; anything else
// is logged and discarded. It reports whether a byte was consumed.
func (ch *Channel) Poll(handler Handler) bool {
	b, ok := ch.link.RecvByte()
	if !ok {
		return false
	}

	c, known := Decode(b)
	if !known {
		ch.logger.Warnf("Discarding unknown command byte 0x%02X", b)
		ch.metrics.UnknownBytes.Inc()
		return true
	}

	ch.logger.Debugf("Received command %s (0x%02X)", c, b)
	ch.metrics.CommandsReceived.WithLabelValues(c.String()).Inc()
	if handler != nil {
		handler(c)
	}
	return true
}
