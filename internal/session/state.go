package session

import (
	"errors"
	"fmt"
)

// State is a session lifecycle phase.
type State int

const (
	Idle State = iota
	WaitingReady
	Running
	Destroyed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingReady:
		return "waiting-ready"
	case Running:
		return "running"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned for a lifecycle step the current state
// does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

var transitions = map[State][]State{
	Idle:         {WaitingReady, Destroyed},
	WaitingReady: {Running, Destroyed},
	Running:      {Destroyed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transition(from, to State) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
