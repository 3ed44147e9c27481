package models

import "time"

// Event types published to downstream consumers.
const (
	EventTranscriptSegment    = "recording.transcript.segment"
	EventTranscriptAligned    = "recording.transcript.aligned"
	EventDiarizationHealth    = "recording.diarization.health"
	EventDiarizationAvailable = "recording.diarization.availability"
)

// SegmentEvent wraps a live transcript segment for publishing.
type SegmentEvent struct {
	EventType    string            `json:"eventType" validate:"required"`
	SessionID    string            `json:"sessionId" validate:"required"`
	RecordingRef string            `json:"recordingRef" validate:"required"`
	Segment      TranscriptSegment `json:"segment"`
	Timestamp    int64             `json:"timestamp"`
}

// AlignedTranscriptEvent carries the speaker-attributed transcript of a session.
type AlignedTranscriptEvent struct {
	EventType    string           `json:"eventType" validate:"required"`
	SessionID    string           `json:"sessionId" validate:"required"`
	RecordingRef string           `json:"recordingRef" validate:"required"`
	Segments     []AlignedSegment `json:"segments"`
	Coverage     float64          `json:"coverage"`
	Attributed   bool             `json:"attributed"`
	Warnings     []string         `json:"warnings,omitempty"`
	Timestamp    int64            `json:"timestamp"`
}

// DiarizationHealthEvent mirrors a health monitor notification.
type DiarizationHealthEvent struct {
	EventType           string    `json:"eventType" validate:"required"`
	SessionID           string    `json:"sessionId" validate:"required"`
	Kind                string    `json:"kind" validate:"oneof=warning recovered"`
	HasWarning          bool      `json:"hasWarning"`
	Message             string    `json:"message,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	TotalFailures       int       `json:"totalFailures"`
	Recoverable         bool      `json:"recoverable"`
	Recommendation      string    `json:"recommendation,omitempty"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitempty"`
	Timestamp           int64     `json:"timestamp"`
}

// DiarizationAvailabilityEvent reports whether the engine can diarize.
type DiarizationAvailabilityEvent struct {
	EventType string `json:"eventType" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
