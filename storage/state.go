package storage

// State is a point in a Table's lifecycle:
//
//	Uninitialized -> Initializing -> Ready -> Closed
//	                              \-> Failed
//
// Failed and Closed are terminal. Close from any other state moves to Closed.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
