// Package session owns the lifecycle of the recognition stream: start, stop,
// error and end, with at most one active stream at a time.
package session

import "fmt"

// State represents the lifecycle state of the session.
type State int

const (
	// StateIdle - No stream is active.
	StateIdle State = iota
	// StateListening - A stream is open and delivering results.
	StateListening
	// StateError - The stream failed. Transient, followed by StateIdle.
	StateError
	// StateEnded - The stream ended or was stopped. Transient, followed by StateIdle.
	StateEnded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateError:
		return "ERROR"
	case StateEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for the transient states that close a stream.
func (s State) IsTerminal() bool {
	return s == StateError || s == StateEnded
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
