package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/schema"
	"live-transcript-service/internal/service/alignment"
	"live-transcript-service/internal/service/attribution"
	"live-transcript-service/internal/service/diarization"
	"live-transcript-service/internal/service/session"
)

// fakeWriter records messages instead of talking to a broker.
type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func enabledPublisher() (*Publisher, *fakeWriter, *fakeWriter, *fakeWriter) {
	p := New(&Config{
		TopicSegments: "t.segments",
		TopicAligned:  "t.aligned",
		TopicHealth:   "t.health",
		Principal:     "test-principal",
	})
	seg, aligned, health := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	p.writerSegments, p.writerAligned, p.writerHealth = seg, aligned, health
	p.enabled = true
	return p, seg, aligned, health
}

func segmentEvent() models.SegmentEvent {
	return NewSegmentEvent("rec-1", models.TranscriptSegment{
		ID: "sess-1-seg-1", SessionID: "sess-1", Text: "hello", Start: 0, End: 1, Confidence: 0.9, IsFinal: true,
	})
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerSegments != nil || p.writerAligned != nil || p.writerHealth != nil {
				t.Error("expected nil writers when disabled")
			}
			if err := p.PublishSegment(context.Background(), segmentEvent()); err != nil {
				t.Errorf("expected no error when disabled, got %v", err)
			}
		})
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:       true,
		Brokers:       []string{"localhost:9092"},
		TopicSegments: "a",
		TopicAligned:  "b",
		TopicHealth:   "c",
	})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected enabled publisher")
	}
	w, ok := p.writerAligned.(*kafka.Writer)
	if !ok || w.Topic != "b" {
		t.Errorf("aligned writer = %#v", p.writerAligned)
	}
}

func TestPublisher_RoutesByTopic(t *testing.T) {
	p, seg, aligned, health := enabledPublisher()
	ctx := context.Background()

	if err := p.PublishSegment(ctx, segmentEvent()); err != nil {
		t.Fatalf("segment: %v", err)
	}
	res := attribution.Result{
		SessionID:    "sess-1",
		RecordingRef: "rec-1",
		Outcome:      attribution.OutcomeWithheld,
		Coverage:     alignment.CoverageResult{Reason: "no diarization segments available"},
	}
	if err := p.PublishAligned(ctx, NewAlignedEvent(res)); err != nil {
		t.Fatalf("aligned: %v", err)
	}
	n := diarization.Notification{Kind: diarization.KindWarning, State: diarization.HealthState{HasWarning: true}}
	if err := p.PublishHealth(ctx, NewHealthEvent("sess-1", n)); err != nil {
		t.Fatalf("health: %v", err)
	}
	avail := session.Availability{SessionID: "sess-1", Known: true, Reason: session.ReasonAuthRequired}
	if err := p.PublishAvailability(ctx, NewAvailabilityEvent(avail)); err != nil {
		t.Fatalf("availability: %v", err)
	}

	if len(seg.msgs) != 1 || len(aligned.msgs) != 1 || len(health.msgs) != 2 {
		t.Fatalf("routing: segments=%d aligned=%d health=%d", len(seg.msgs), len(aligned.msgs), len(health.msgs))
	}

	msg := seg.msgs[0]
	if string(msg.Key) != "sess-1" {
		t.Errorf("key = %s, want session id", msg.Key)
	}
	if string(msg.Headers[0].Value) != models.EventTranscriptSegment {
		t.Errorf("eventType header = %s", msg.Headers[0].Value)
	}
	if string(msg.Headers[1].Value) != "test-principal" {
		t.Errorf("principal header = %s", msg.Headers[1].Value)
	}

	var ev models.AlignedTranscriptEvent
	if err := json.Unmarshal(aligned.msgs[0].Value, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Attributed || len(ev.Warnings) != 1 {
		t.Errorf("aligned event = %+v", ev)
	}
}

func TestPublisher_RejectsInvalidEvent(t *testing.T) {
	p, seg, _, _ := enabledPublisher()

	ev := segmentEvent()
	ev.RecordingRef = ""
	err := p.PublishSegment(context.Background(), ev)
	if !errors.Is(err, schema.ErrInvalidEvent) {
		t.Fatalf("expected schema error, got %v", err)
	}
	if len(seg.msgs) != 0 {
		t.Error("invalid event must not be written")
	}
}

func TestPublisher_WriteError(t *testing.T) {
	p, seg, _, _ := enabledPublisher()
	seg.err = errors.New("leader not available")

	if err := p.PublishSegment(context.Background(), segmentEvent()); err == nil {
		t.Error("expected write error")
	}
}

func TestPublisher_Close(t *testing.T) {
	p, seg, aligned, health := enabledPublisher()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !seg.closed || !aligned.closed || !health.closed {
		t.Error("all writers should be closed")
	}

	if err := New(nil).Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
