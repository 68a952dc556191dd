package plc

import "fmt"

// State is the connection state of a Manager.
type State int32

// Connection states.
const (
	StateStopped State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear as a string in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateStopped; st <= StateReconnecting; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown link state %q", text)
}
