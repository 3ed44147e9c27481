package diarization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestMonitor_InitialState(t *testing.T) {
	m := NewMonitor()
	st := m.State()
	assert.False(t, st.HasWarning)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Zero(t, st.TotalFailures)
}

func TestMonitor_WarningReplacesState(t *testing.T) {
	m := NewMonitor()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	ch, cancel := m.Subscribe(4)
	defer cancel()

	st := m.ApplyWarning(Warning{
		Reason:              "embedding_timeout",
		ConsecutiveFailures: 3,
		TotalFailures:       5,
		Recoverable:         true,
		Recommendation:      "Reduce max speakers",
	})

	assert.True(t, st.HasWarning)
	assert.Equal(t, "embedding_timeout", st.LastFailureReason)
	assert.Equal(t, 3, st.ConsecutiveFailures)
	assert.Equal(t, 5, st.TotalFailures)
	assert.Equal(t, fixed, st.LastFailureAt)
	assert.NotEmpty(t, st.Message)

	select {
	case n := <-ch:
		assert.Equal(t, KindWarning, n.Kind)
		assert.Equal(t, "Reduce max speakers", n.State.Recommendation)
	default:
		t.Fatal("expected warning notification")
	}

	// A second warning replaces rather than accumulates.
	st = m.ApplyWarning(Warning{Reason: "other", ConsecutiveFailures: 1, TotalFailures: 6})
	assert.Equal(t, "other", st.LastFailureReason)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Empty(t, st.Recommendation)
}

func TestMonitor_RecoveryWithoutWarningIsSilent(t *testing.T) {
	m := NewMonitor()
	ch, cancel := m.Subscribe(4)
	defer cancel()

	notified := m.ApplyRecovery(Recovery{PreviousFailures: intPtr(2), SegmentsProcessed: 10})

	assert.False(t, notified)
	assert.False(t, m.State().HasWarning)
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification: %+v", n)
	default:
	}
}

func TestMonitor_RecoveryAfterWarning(t *testing.T) {
	m := NewMonitor()
	ch, cancel := m.Subscribe(4)
	defer cancel()

	m.ApplyWarning(Warning{Reason: "timeout", ConsecutiveFailures: 3, TotalFailures: 3})
	<-ch

	notified := m.ApplyRecovery(Recovery{PreviousFailures: intPtr(4), SegmentsProcessed: 42})
	require.True(t, notified)

	st := m.State()
	assert.False(t, st.HasWarning)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 4, st.TotalFailures)
	assert.Equal(t, "timeout", st.LastFailureReason)

	n := <-ch
	assert.Equal(t, KindRecovered, n.Kind)
	assert.Equal(t, 42, n.SegmentsProcessed)

	// Second recovery is deduplicated.
	assert.False(t, m.ApplyRecovery(Recovery{}))
}

func TestMonitor_RecoveryKeepsTotalWhenFieldAbsent(t *testing.T) {
	m := NewMonitor()
	m.ApplyWarning(Warning{ConsecutiveFailures: 2, TotalFailures: 7})

	m.ApplyRecovery(Recovery{})

	assert.Equal(t, 7, m.State().TotalFailures)
}

func TestMonitor_Reset(t *testing.T) {
	m := NewMonitor()
	m.ApplyWarning(Warning{ConsecutiveFailures: 2, TotalFailures: 2})
	m.Reset()
	assert.Equal(t, HealthState{}, m.State())
}

func TestMonitor_FullSubscriberDoesNotBlock(t *testing.T) {
	m := NewMonitor()
	_, cancel := m.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.ApplyWarning(Warning{ConsecutiveFailures: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ApplyWarning blocked on a full subscriber")
	}
}

func TestMonitor_CancelClosesChannel(t *testing.T) {
	m := NewMonitor()
	ch, cancel := m.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// No panic sending after cancel.
	m.ApplyWarning(Warning{})
}
