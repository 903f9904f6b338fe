package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for peer link state machine actions.
// The link implements it; actions must not send events synchronously.
type Actions interface {
	// EnterConnecting starts an open attempt that reports back with
	// EvOpened or EvOpenFailed.
	EnterConnecting(c *librefsm.Context) error
	// EnterOpen starts the reader and writer for the opened port.
	EnterOpen(c *librefsm.Context) error
	// ExitOpen stops the reader and writer and closes the port.
	ExitOpen(c *librefsm.Context) error
	EnterBackoff(c *librefsm.Context) error
}
