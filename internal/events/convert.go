package events

import (
	"time"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/service/attribution"
	"live-transcript-service/internal/service/diarization"
	"live-transcript-service/internal/service/session"
)

// NewSegmentEvent wraps a live segment.
func NewSegmentEvent(recordingRef string, seg models.TranscriptSegment) models.SegmentEvent {
	return models.SegmentEvent{
		EventType:    models.EventTranscriptSegment,
		SessionID:    seg.SessionID,
		RecordingRef: recordingRef,
		Segment:      seg,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// NewAlignedEvent wraps an attribution result. Warnings from coverage
// validation travel with it; a failed validation's reason is the first one.
func NewAlignedEvent(r attribution.Result) models.AlignedTranscriptEvent {
	var warnings []string
	if r.Coverage.Reason != "" {
		warnings = append(warnings, r.Coverage.Reason)
	}
	warnings = append(warnings, r.Coverage.Warnings...)
	return models.AlignedTranscriptEvent{
		EventType:    models.EventTranscriptAligned,
		SessionID:    r.SessionID,
		RecordingRef: r.RecordingRef,
		Segments:     r.Segments,
		Coverage:     r.Coverage.Coverage,
		Attributed:   r.Attributed(),
		Warnings:     warnings,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// NewHealthEvent wraps a health monitor notification.
func NewHealthEvent(sessionID string, n diarization.Notification) models.DiarizationHealthEvent {
	return models.DiarizationHealthEvent{
		EventType:           models.EventDiarizationHealth,
		SessionID:           sessionID,
		Kind:                string(n.Kind),
		HasWarning:          n.State.HasWarning,
		Message:             n.State.Message,
		ConsecutiveFailures: n.State.ConsecutiveFailures,
		TotalFailures:       n.State.TotalFailures,
		Recoverable:         n.State.Recoverable,
		Recommendation:      n.State.Recommendation,
		LastFailureAt:       n.State.LastFailureAt,
		Timestamp:           time.Now().UnixMilli(),
	}
}

// NewAvailabilityEvent wraps a diarization availability report.
func NewAvailabilityEvent(a session.Availability) models.DiarizationAvailabilityEvent {
	return models.DiarizationAvailabilityEvent{
		EventType: models.EventDiarizationAvailable,
		SessionID: a.SessionID,
		Available: a.Available,
		Reason:    string(a.Reason),
		Message:   a.Message,
		Timestamp: time.Now().UnixMilli(),
	}
}
