package fsm

import "github.com/librescoot/librefsm"

// Link states
const (
	StateIdle       librefsm.StateID = "idle"
	StateConnecting librefsm.StateID = "connecting"
	StateOpen       librefsm.StateID = "open"
	StateBackoff    librefsm.StateID = "backoff"
)

// Link events
const (
	EvStart      librefsm.EventID = "start"
	EvOpened     librefsm.EventID = "opened"
	EvOpenFailed librefsm.EventID = "open-failed"
	EvLinkError  librefsm.EventID = "link-error"
	EvRetry      librefsm.EventID = "retry"
)

// States lists every link state, for gauges and logging.
var States = []librefsm.StateID{StateIdle, StateConnecting, StateOpen, StateBackoff}
