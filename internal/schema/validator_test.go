package schema

import (
	"errors"
	"strings"
	"testing"

	"live-transcript-service/internal/models"
)

func TestValidate_SegmentEvent(t *testing.T) {
	v := New()

	ok := models.SegmentEvent{
		EventType:    models.EventTranscriptSegment,
		SessionID:    "sess-1",
		RecordingRef: "rec-1",
		Segment: models.TranscriptSegment{
			ID: "sess-1-seg-1", SessionID: "sess-1", Text: "hi", Start: 1, End: 2, Confidence: 0.9,
		},
	}
	if err := v.Validate(ok); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	bad := ok
	bad.SessionID = ""
	bad.Segment.End = 0.5
	err := v.Validate(bad)
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if !strings.Contains(err.Error(), "SessionID") || !strings.Contains(err.Error(), "End") {
		t.Errorf("error should name failing fields: %v", err)
	}
}

func TestValidate_HealthKind(t *testing.T) {
	v := New()
	ev := models.DiarizationHealthEvent{EventType: models.EventDiarizationHealth, SessionID: "s", Kind: "exploded"}
	if err := v.Validate(ev); err == nil {
		t.Error("unknown kind should fail")
	}
	ev.Kind = "recovered"
	if err := v.Validate(ev); err != nil {
		t.Errorf("recovered should pass: %v", err)
	}
}

func TestValidate_NonStructPasses(t *testing.T) {
	if err := New().Validate(map[string]string{"k": "v"}); err != nil {
		t.Errorf("non-struct values pass unchecked, got %v", err)
	}
}
