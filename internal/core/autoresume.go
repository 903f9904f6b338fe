package core

import (
	"time"

	"indicator-service/internal/command"
	"indicator-service/internal/types"
)

// checkAutoResume resumes a stopped device once its deadline has been
// reached and tells the peer with a single On.
func (s *System) checkAutoResume(now time.Duration) bool {
	deadline, ok := s.machine.Deadline()
	if !ok || now < deadline {
		return false
	}

	s.logger.Infof("Stop deadline reached, resuming")
	if !s.machine.RequestResume() {
		return false
	}
	s.metrics.Transitions.WithLabelValues(string(types.ModeRunning), sourceAutoResume).Inc()
	s.channel.Send(command.On)
	return true
}
