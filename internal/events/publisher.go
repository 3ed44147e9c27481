// Package events publishes transcript and diarization events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/schema"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes events to one topic per stream: live segments,
// aligned transcripts, and diarization health/availability.
type Publisher struct {
	writerSegments messageWriter
	writerAligned  messageWriter
	writerHealth   messageWriter
	topicSegments  string
	topicAligned   string
	topicHealth    string
	principal      string
	enabled        bool
	validator      *schema.Validator
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicSegments string
	TopicAligned  string
	TopicHealth   string
	Principal     string
	Enabled       bool
}

// New creates a publisher. With a nil config, Enabled false or no brokers it
// runs in log-only mode.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
	}
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.topicSegments = cfg.TopicSegments
	p.topicAligned = cfg.TopicAligned
	p.topicHealth = cfg.TopicHealth
	p.principal = cfg.Principal

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	p.writerSegments = newWriter(cfg.TopicSegments)
	p.writerAligned = newWriter(cfg.TopicAligned)
	p.writerHealth = newWriter(cfg.TopicHealth)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicSegments", cfg.TopicSegments).
		Str("topicAligned", cfg.TopicAligned).
		Str("topicHealth", cfg.TopicHealth).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// PublishSegment publishes a live transcript segment keyed by session, so a
// session's segments stay ordered within one partition.
func (p *Publisher) PublishSegment(ctx context.Context, ev models.SegmentEvent) error {
	return p.publish(ctx, p.writerSegments, p.topicSegments, ev.EventType, ev.SessionID, ev)
}

// PublishAligned publishes a speaker-attributed transcript.
func (p *Publisher) PublishAligned(ctx context.Context, ev models.AlignedTranscriptEvent) error {
	return p.publish(ctx, p.writerAligned, p.topicAligned, ev.EventType, ev.SessionID, ev)
}

// PublishHealth publishes a diarization health transition.
func (p *Publisher) PublishHealth(ctx context.Context, ev models.DiarizationHealthEvent) error {
	return p.publish(ctx, p.writerHealth, p.topicHealth, ev.EventType, ev.SessionID, ev)
}

// PublishAvailability publishes the engine's diarization capability on the
// health topic.
func (p *Publisher) PublishAvailability(ctx context.Context, ev models.DiarizationAvailabilityEvent) error {
	return p.publish(ctx, p.writerHealth, p.topicHealth, ev.EventType, ev.SessionID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Refusing to publish invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all writers.
func (p *Publisher) Close() error {
	var errs []error
	for name, w := range map[string]messageWriter{
		"segments": p.writerSegments,
		"aligned":  p.writerAligned,
		"health":   p.writerHealth,
	} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("writer", name).Msg("Error closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
