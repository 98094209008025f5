package ctlplane

import "github.com/bft-labs/ctlplane/internal/app"

// State is the driver's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingReady
	StateLive
	StateShuttingDown
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	return app.State(s).String()
}

// StateChangeEvent describes one lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// EventHandler receives driver lifecycle notifications.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
}

// eventEmitterWrapper adapts EventHandler to the internal emitter interface.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func convertState(s app.State) State {
	switch s {
	case app.StateUninitialized:
		return StateUninitialized
	case app.StateAwaitingReady:
		return StateAwaitingReady
	case app.StateLive:
		return StateLive
	case app.StateShuttingDown:
		return StateShuttingDown
	case app.StateTerminated:
		return StateTerminated
	default:
		return StateUninitialized
	}
}
