package session

import (
	"slices"
	"strings"
	"sync"
	"time"

	"live-transcript-service/internal/service/audio"
)

// ProgressKind identifies a progress event.
type ProgressKind string

const (
	ProgressStarting  ProgressKind = "starting"
	ProgressLaunching ProgressKind = "launching"
	ProgressStatus    ProgressKind = "status"
	ProgressActive    ProgressKind = "active"
	ProgressOverflow  ProgressKind = "buffer_overflow"
	ProgressPaused    ProgressKind = "paused"
	ProgressResumed   ProgressKind = "resumed"
	ProgressStopping  ProgressKind = "stopping"
	ProgressComplete  ProgressKind = "complete"
	ProgressError     ProgressKind = "error"
	ProgressIdle      ProgressKind = "idle"
)

// Progress is a user-facing lifecycle or engine progress event.
type Progress struct {
	SessionID  string       `json:"sessionId"`
	Kind       ProgressKind `json:"kind"`
	State      State        `json:"state"`
	Message    string       `json:"message,omitempty"`
	Progress   float64      `json:"progress,omitempty"`
	Optimistic bool         `json:"optimistic,omitempty"`
	Time       time.Time    `json:"time"`
}

// StartResult resolves the channel returned by Start.
type StartResult struct {
	Err error
	// Optimistic is set when the session went Active because the ready
	// timeout elapsed, not because the engine reported ready.
	Optimistic bool
}

// UnavailableReason classifies why diarization cannot run.
type UnavailableReason string

const (
	ReasonAuthRequired       UnavailableReason = "auth_required"
	ReasonModelLoadFailed    UnavailableReason = "model_load_failed"
	ReasonNoEmbeddingBackend UnavailableReason = "no_embedding_backend"
	ReasonDisabled           UnavailableReason = "disabled"
	ReasonUnknown            UnavailableReason = "unknown"
)

// ClassifyUnavailable maps the engine's free-form reason to a class and a
// human-readable message.
func ClassifyUnavailable(reason, details string) (UnavailableReason, string) {
	text := strings.ToLower(reason + " " + details)
	switch {
	case containsAny(text, "auth", "token", "401", "403", "gated", "license", "accept the user conditions"):
		return ReasonAuthRequired, "Speaker identification needs an access token for the diarization model"
	case containsAny(text, "embedding", "speechbrain", "wespeaker", "no backend"):
		return ReasonNoEmbeddingBackend, "No speaker embedding backend is installed"
	case containsAny(text, "load", "model", "checkpoint", "weights", "download"):
		return ReasonModelLoadFailed, "The diarization model could not be loaded"
	case containsAny(text, "disabled", "not enabled", "off"):
		return ReasonDisabled, "Speaker identification is turned off"
	default:
		msg := "Speaker identification is unavailable"
		if reason != "" {
			msg += ": " + reason
		}
		return ReasonUnknown, msg
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Availability is the diarization capability reported by the engine.
type Availability struct {
	SessionID string            `json:"sessionId"`
	Known     bool              `json:"known"`
	Available bool              `json:"available"`
	Backend   string            `json:"backend,omitempty"`
	Reason    UnavailableReason `json:"reason,omitempty"`
	Message   string            `json:"message,omitempty"`
	Details   string            `json:"details,omitempty"`
}

// AudioDiagnostics are the session's audio counters.
type AudioDiagnostics struct {
	ChunksReceived  int64   `json:"chunksReceived"`
	BytesReceived   int64   `json:"bytesReceived"`
	ChunksForwarded int64   `json:"chunksForwarded"`
	BytesForwarded  int64   `json:"bytesForwarded"`
	ChunksBuffered  int     `json:"chunksBuffered"`
	BufferedSeconds float64 `json:"bufferedSeconds"`
	ChunksDropped   int64   `json:"chunksDropped"`
	DroppedSeconds  float64 `json:"droppedSeconds"`
	ChunksDiscarded int64   `json:"chunksDiscarded"`
	OverflowWarned  bool    `json:"overflowWarned"`
	// ChunksQueued are forwarded chunks the engine has not read yet.
	ChunksQueued int `json:"chunksQueued"`
	// ChunksBacklogDropped are live chunks refused because the engine
	// stopped reading.
	ChunksBacklogDropped int64 `json:"chunksBacklogDropped"`
	// TotalBufferedSeconds is all audio that passed through the startup
	// buffer, flushed or dropped.
	TotalBufferedSeconds float64      `json:"totalBufferedSeconds"`
	Format               audio.Format `json:"format"`
	FormatDetected       bool         `json:"formatDetected"`
}

// Snapshot is the controller status.
type Snapshot struct {
	SessionID       string       `json:"sessionId,omitempty"`
	RecordingRef    string       `json:"recordingRef,omitempty"`
	State           State        `json:"state"`
	Phase           Phase        `json:"phase,omitempty"`
	Error           string       `json:"error,omitempty"`
	ErrorKind       string       `json:"errorKind,omitempty"`
	StartedAt       time.Time    `json:"startedAt,omitempty"`
	Config          Config       `json:"config"`
	EnginePID       int          `json:"enginePid,omitempty"`
	Segments        int          `json:"segments"`
	TimestampOffset float64      `json:"timestampOffset"`
	Diarization     Availability `json:"diarization"`
}

// listeners is a set of callbacks keyed by subscription id.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// batch collects listener calls made while the controller lock is held so
// they run after it is released.
type batch []func()

func (b *batch) add(fn func()) { *b = append(*b, fn) }

func (b batch) run() {
	for _, fn := range b {
		fn()
	}
}
