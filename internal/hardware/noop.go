package hardware

import (
	"time"

	"indicator-service/internal/logger"
	"indicator-service/internal/types"
)

// NoopIO stands in for the GPIO backend on hosts without one. Patterns are
// logged at debug level and the button never fires.
type NoopIO struct {
	logger *logger.Logger
}

func NewNoopIO(l *logger.Logger) *NoopIO {
	return &NoopIO{logger: l}
}

func (n *NoopIO) Initialize(onEdge func(ts time.Duration)) error {
	n.logger.Warnf("GPIO disabled, indicators are simulated")
	return nil
}

func (n *NoopIO) Apply(p types.Pattern) error {
	n.logger.Debugf("Indicators: %s", p.Flags())
	return nil
}

func (n *NoopIO) Cleanup() {}
