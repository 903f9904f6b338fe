package fsm

import (
	"time"

	"github.com/librescoot/librefsm"
)

const DefaultRetryDelay = 2 * time.Second

// NewDefinition creates the peer link FSM definition. A failed open or an
// I/O error parks the link in backoff for retryDelay before reconnecting.
func NewDefinition(actions Actions, retryDelay time.Duration) *librefsm.Definition {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	return librefsm.NewDefinition().
		State(StateIdle).
		State(StateConnecting,
			librefsm.WithOnEnter(actions.EnterConnecting),
		).
		State(StateOpen,
			librefsm.WithOnEnter(actions.EnterOpen),
			librefsm.WithOnExit(actions.ExitOpen),
		).
		State(StateBackoff,
			librefsm.WithTimeout(retryDelay, EvRetry),
			librefsm.WithOnEnter(actions.EnterBackoff),
		).

		// === Transitions ===
		Transition(StateIdle, EvStart, StateConnecting).
		Transition(StateConnecting, EvOpened, StateOpen).
		Transition(StateConnecting, EvOpenFailed, StateBackoff).
		Transition(StateOpen, EvLinkError, StateBackoff).
		Transition(StateBackoff, EvRetry, StateConnecting).
		Initial(StateIdle)
}
