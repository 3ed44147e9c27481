package segment

import (
	"testing"
)

func TestTracker_PartialsShareID(t *testing.T) {
	tr := NewTracker(New(), "sess")

	p1, _ := tr.Observe(false)
	p2, _ := tr.Observe(false)
	f, _ := tr.Observe(true)

	if p1 != "sess-seg-1" || p2 != p1 || f != p1 {
		t.Errorf("ids = %s %s %s, want all sess-seg-1", p1, p2, f)
	}
	if tr.State() != StateFinal {
		t.Errorf("state = %v, want FINAL", tr.State())
	}

	next, _ := tr.Observe(false)
	if next != "sess-seg-2" {
		t.Errorf("next = %s, want sess-seg-2", next)
	}
	if tr.Finals() != 1 {
		t.Errorf("finals = %d, want 1", tr.Finals())
	}
}

func TestTracker_FinalWithoutPartials(t *testing.T) {
	tr := NewTracker(nil, "s")

	a, _ := tr.Observe(true)
	b, _ := tr.Observe(true)
	if a == b {
		t.Errorf("consecutive finals should get distinct ids, both %s", a)
	}
	if tr.Finals() != 2 {
		t.Errorf("finals = %d, want 2", tr.Finals())
	}
}

func TestTracker_Drop(t *testing.T) {
	tr := NewTracker(New(), "s")

	if got := tr.Drop(); got != "" {
		t.Errorf("drop with nothing open = %q", got)
	}

	id, _ := tr.Observe(false)
	if got := tr.Drop(); got != id {
		t.Errorf("dropped %q, want %q", got, id)
	}
	if tr.State() != StateDropped {
		t.Errorf("state = %v, want DROPPED", tr.State())
	}

	next, _ := tr.Observe(true)
	if next == id {
		t.Error("result after drop should open a new segment")
	}
}

func TestTracker_Close(t *testing.T) {
	tr := NewTracker(New(), "s")
	_, _ = tr.Observe(false)
	tr.Close()

	if _, err := tr.Observe(true); err != ErrTrackerClosed {
		t.Errorf("err = %v, want ErrTrackerClosed", err)
	}
	if tr.State() != StateDropped {
		t.Errorf("state = %v, want DROPPED", tr.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateOpen, "OPEN"},
		{StateFinal, "FINAL"},
		{StateDropped, "DROPPED"},
		{State(9), "UNKNOWN(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
