// Package diarization tracks the health of the engine's speaker diarization.
//
// The monitor is observational only. Transcription keeps flowing through any
// diarization failure; subscribers use the notifications to surface a
// "speaker identification degraded" advisory.
package diarization

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthState is the current diarization health for a session.
type HealthState struct {
	HasWarning          bool      `json:"hasWarning"`
	Message             string    `json:"message,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	TotalFailures       int       `json:"totalFailures"`
	LastFailureReason   string    `json:"lastFailureReason,omitempty"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitempty"`
	Recoverable         bool      `json:"recoverable"`
	Recommendation      string    `json:"recommendation,omitempty"`
}

// Warning is reported by the engine when diarization starts failing.
type Warning struct {
	Message             string
	Reason              string
	ConsecutiveFailures int
	TotalFailures       int
	Recoverable         bool
	Recommendation      string
}

// Recovery is reported by the engine when diarization works again.
// PreviousFailures is nil when the engine did not send the field.
type Recovery struct {
	Message           string
	PreviousFailures  *int
	SegmentsProcessed int
}

// NotificationKind distinguishes warning from recovery notifications.
type NotificationKind string

const (
	KindWarning   NotificationKind = "warning"
	KindRecovered NotificationKind = "recovered"
)

// Notification is delivered to subscribers on every visible transition.
type Notification struct {
	Kind              NotificationKind
	State             HealthState
	SegmentsProcessed int
}

// Monitor holds the diarization health state. Safe for concurrent use.
//
// Only two transitions exist:
//
//	warning  → state replaced, hasWarning = true, always notified
//	recovery → notified only if a warning was active, then cleared
type Monitor struct {
	mu     sync.RWMutex
	state  HealthState
	now    func() time.Time
	subs   map[int]chan Notification
	nextID int
}

// NewMonitor creates a monitor in the healthy state.
func NewMonitor() *Monitor {
	return &Monitor{
		now:  time.Now,
		subs: make(map[int]chan Notification),
	}
}

// State returns a copy of the current health state.
func (m *Monitor) State() HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ApplyWarning replaces the health state with the warning's fields.
func (m *Monitor) ApplyWarning(w Warning) HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()

	message := w.Message
	if message == "" {
		message = "Speaker identification is degraded"
	}
	m.state = HealthState{
		HasWarning:          true,
		Message:             message,
		ConsecutiveFailures: w.ConsecutiveFailures,
		TotalFailures:       w.TotalFailures,
		LastFailureReason:   w.Reason,
		LastFailureAt:       m.now(),
		Recoverable:         w.Recoverable,
		Recommendation:      w.Recommendation,
	}

	log.Warn().
		Str("component", "diarization-monitor").
		Str("reason", w.Reason).
		Int("consecutiveFailures", w.ConsecutiveFailures).
		Int("totalFailures", w.TotalFailures).
		Bool("recoverable", w.Recoverable).
		Msg("Diarization health warning")

	m.notifyLocked(Notification{Kind: KindWarning, State: m.state})
	return m.state
}

// ApplyRecovery clears an active warning. It returns true when a
// notification was sent, which happens only if a warning was active.
func (m *Monitor) ApplyRecovery(r Recovery) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasWarning := m.state.HasWarning

	m.state.HasWarning = false
	m.state.ConsecutiveFailures = 0
	m.state.Message = r.Message
	m.state.Recommendation = ""
	if r.PreviousFailures != nil {
		m.state.TotalFailures = *r.PreviousFailures
	}

	if !wasWarning {
		return false
	}

	log.Info().
		Str("component", "diarization-monitor").
		Int("totalFailures", m.state.TotalFailures).
		Int("segmentsProcessed", r.SegmentsProcessed).
		Msg("Diarization recovered")

	m.notifyLocked(Notification{Kind: KindRecovered, State: m.state, SegmentsProcessed: r.SegmentsProcessed})
	return true
}

// Reset returns the monitor to the healthy state. Subscriptions survive.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = HealthState{}
}

// Subscribe returns a channel of notifications and a cancel function.
// Notifications are dropped for a subscriber whose buffer is full.
func (m *Monitor) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Monitor) notifyLocked(n Notification) {
	for id, ch := range m.subs {
		select {
		case ch <- n:
		default:
			log.Warn().
				Str("component", "diarization-monitor").
				Int("subscriber", id).
				Str("kind", string(n.Kind)).
				Msg("Subscriber buffer full, notification dropped")
		}
	}
}
