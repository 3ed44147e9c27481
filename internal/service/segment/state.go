package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of one utterance.
type State int

const (
	// StateOpen - partial results may still arrive.
	StateOpen State = iota
	// StateFinal - the final result was emitted.
	StateFinal
	// StateDropped - abandoned without a final (engine failure or reset).
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinal:
		return "FINAL"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal reports whether no further results belong to this utterance.
func (s State) IsTerminal() bool {
	return s == StateFinal || s == StateDropped
}

var ErrTrackerClosed = errors.New("segment tracker is closed")

// Tracker hands out segment ids for a session. Partial results share the id
// of the utterance they belong to; a final result closes the utterance and the
// next result opens a new one.
//
//	OPEN ──partial──▶ OPEN
//	OPEN ──final────▶ FINAL ──next result──▶ OPEN (new id)
//	any  ──Drop─────▶ DROPPED
type Tracker struct {
	mu      sync.Mutex
	gen     *Generator
	scope   string
	current string
	state   State
	finals  int
	closed  bool
}

// NewTracker creates a tracker for scope. A nil generator gets a fresh one.
func NewTracker(gen *Generator, scope string) *Tracker {
	if gen == nil {
		gen = New()
	}
	return &Tracker{gen: gen, scope: scope, state: StateFinal}
}

// Observe records a result and returns the segment id it belongs to.
func (t *Tracker) Observe(isFinal bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrTrackerClosed
	}
	if t.state.IsTerminal() {
		t.current = t.gen.Next(t.scope)
		t.state = StateOpen
	}
	id := t.current
	if isFinal {
		t.state = StateFinal
		t.finals++
	}
	return id, nil
}

// Drop abandons an open utterance. It returns the dropped id, or "" when no
// utterance was open.
func (t *Tracker) Drop() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return ""
	}
	t.state = StateDropped
	return t.current
}

// Close drops any open utterance and rejects further results.
func (t *Tracker) Close() {
	t.Drop()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// State returns the state of the current utterance.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Finals returns how many utterances reached a final result.
func (t *Tracker) Finals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finals
}
