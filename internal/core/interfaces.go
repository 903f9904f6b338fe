package core

import (
	"time"

	"indicator-service/internal/types"
)

// HardwareIO defines the hardware operations needed by System.
// Initialize registers onEdge for raw button edges; it may be called from
// any goroutine with the edge's monotonic timestamp.
type HardwareIO interface {
	Initialize(onEdge func(ts time.Duration)) error
	Cleanup()

	// Apply drives the indicator outputs.
	Apply(p types.Pattern) error
}

// Clock supplies monotonic readings on the same base as edge timestamps.
type Clock interface {
	Now() time.Duration
}
