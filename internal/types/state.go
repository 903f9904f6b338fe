package types

import (
	"strings"
	"time"
)

type DeviceMode string

const (
	ModeRunning DeviceMode = "running"
	ModeStopped DeviceMode = "stopped"
)

// RotationSize is the number of indicator outputs in the rotation.
const RotationSize = 3

// Pattern is the active/inactive level of each indicator output.
type Pattern [RotationSize]bool

// Snapshot is the read-only projection of the device state handed to
// indicator outputs and external observers.
type Snapshot struct {
	Mode          DeviceMode
	RotationIndex int

	// StopDeadline is the monotonic reading at which a stopped device
	// resumes. Zero while running.
	StopDeadline time.Duration
	// StopRemaining is how long the stop still lasts, measured at the
	// iteration the snapshot was taken. Zero while running.
	StopRemaining time.Duration
}

func (s Snapshot) Stopped() bool {
	return s.Mode == ModeStopped
}

// Pattern returns the output levels implied by the snapshot: exactly one
// active output while running, none while stopped.
func (s Snapshot) Pattern() Pattern {
	var p Pattern
	if s.Mode == ModeRunning && s.RotationIndex >= 0 && s.RotationIndex < RotationSize {
		p[s.RotationIndex] = true
	}
	return p
}

// Flags renders the pattern as comma-joined 0/1 flags, e.g. "1,0,0".
func (p Pattern) Flags() string {
	parts := make([]string, RotationSize)
	for i, on := range p {
		if on {
			parts[i] = "1"
		} else {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, ",")
}
