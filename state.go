package sourcez

// State represents the current state of a Binding.
type State int32

const (
	// StatePending indicates the Binding has not yet received a value or an
	// error from its stream.
	StatePending State = iota

	// StateResolved indicates the latest value was applied successfully.
	StateResolved

	// StateDegraded indicates an error occurred after a value had been
	// applied. The previous value remains current.
	StateDegraded

	// StateErrored indicates an error occurred before any value was ever
	// applied.
	StateErrored
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateDegraded:
		return "degraded"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
