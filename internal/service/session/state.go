// Package session implements the controller that owns one recording's
// interaction with the recognition engine: the lifecycle state machine, the
// startup buffer and its flush, and dispatch of engine messages.
package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of the controller.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StatePaused
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateError; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}

// Recording reports whether audio is accepted in this state.
func (s State) Recording() bool {
	return s == StateStarting || s == StateActive || s == StatePaused
}

// Phase refines StateStarting. The session only becomes Active by passing
// through PhaseDraining, so it is never Active with audio still buffered.
//
//	AWAITING_AUDIO ──first chunk──▶ AWAITING_READY ──ready/timeout──▶ DRAINING ──▶ Active
type Phase int

const (
	PhaseNone Phase = iota
	PhaseAwaitingAudio
	PhaseAwaitingReady
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return ""
	case PhaseAwaitingAudio:
		return "AWAITING_AUDIO"
	case PhaseAwaitingReady:
		return "AWAITING_READY"
	case PhaseDraining:
		return "DRAINING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for ph := PhaseNone; ph <= PhaseDraining; ph++ {
		if ph.String() == string(b) {
			*p = ph
			return nil
		}
	}
	return fmt.Errorf("session: unknown phase %q", b)
}

// Errors returned by controller operations.
var (
	ErrAlreadyRunning    = errors.New("session: already running")
	ErrNotRecording      = errors.New("session: not recording")
	ErrInvalidTransition = errors.New("session: invalid state transition")
	ErrNotRunning        = errors.New("session: no session to stop")
	ErrNoAudio           = errors.New("session: no audio received before timeout")
	ErrStopped           = errors.New("session: stopped before becoming active")
	ErrReset             = errors.New("session: force reset")
)
