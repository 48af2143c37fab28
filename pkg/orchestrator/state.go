package orchestrator

import "fmt"

// State is a node of the turn state machine.
type State int

const (
	StateInit State = iota
	StateRoute
	StateGenerateOpening
	StateFanOut
	StateFanIn
	StateMaybeCompact
	StateCompact
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRoute:
		return "route"
	case StateGenerateOpening:
		return "generate_opening"
	case StateFanOut:
		return "fan_out"
	case StateFanIn:
		return "fan_in"
	case StateMaybeCompact:
		return "maybe_compact"
	case StateCompact:
		return "compact"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON responses and stream events.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by String.
func (s *State) UnmarshalText(text []byte) error {
	name := string(text)
	for st := StateInit; st <= StateDone; st++ {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}
