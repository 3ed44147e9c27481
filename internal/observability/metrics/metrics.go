// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_transcript"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal     prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionsFailed    *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	StartupLatency    prometheus.Histogram
	StartupOptimistic prometheus.Counter

	// Audio metrics
	AudioBytesReceived   prometheus.Counter
	AudioChunksReceived  prometheus.Counter
	AudioChunksForwarded prometheus.Counter
	AudioChunksDropped   prometheus.Counter
	AudioChunksDiscarded prometheus.Counter
	AudioBufferedSeconds prometheus.Gauge
	ChunkLimitExceeded   *prometheus.CounterVec

	// Engine metrics
	EngineLaunches     prometheus.Counter
	EngineCrashes      *prometheus.CounterVec
	EngineMessages     *prometheus.CounterVec
	EngineDecodeErrors prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	FallbackSegments   prometheus.Counter

	// Diarization metrics
	DiarizationWarnings   prometheus.Counter
	DiarizationRecoveries prometheus.Counter
	DiarizationAvailable  prometheus.Gauge

	// Alignment metrics
	AlignedSegments     *prometheus.CounterVec
	CoverageValidations *prometheus.CounterVec
	CoverageRatio       prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently not idle",
		}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that entered the error state",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions from start to idle",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
		StartupLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_latency_seconds",
			Help:      "Time from session start until the session becomes active",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		StartupOptimistic: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "startup_optimistic_total",
			Help:      "Sessions activated after the ready timeout without a ready signal",
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total audio chunks received",
		}),
		AudioChunksForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_forwarded_total",
			Help:      "Total audio chunks written to the engine",
		}),
		AudioChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Buffered chunks dropped because the startup buffer overflowed",
		}),
		AudioChunksDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_discarded_total",
			Help:      "Chunks discarded while the session was paused",
		}),
		AudioBufferedSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_buffered_seconds",
			Help:      "Audio currently held in the startup buffer",
		}),
		ChunkLimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_limit_exceeded_total",
			Help:      "Total number of chunks rejected by ingest limits",
		}, []string{"limit_type"}),

		EngineLaunches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_launches_total",
			Help:      "Total number of engine processes launched",
		}),
		EngineCrashes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_crashes_total",
			Help:      "Unexpected engine exits by classified kind",
		}, []string{"kind"}),
		EngineMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_messages_total",
			Help:      "Engine messages received by type",
		}, []string{"type"}),
		EngineDecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_decode_errors_total",
			Help:      "Engine output lines that could not be decoded",
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcript segments emitted",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcript segments emitted",
		}),
		FallbackSegments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_segments_total",
			Help:      "Segments emitted with a fallback speaker",
		}),

		DiarizationWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diarization_warnings_total",
			Help:      "Diarization health warnings received",
		}),
		DiarizationRecoveries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diarization_recoveries_total",
			Help:      "Diarization recoveries that cleared an active warning",
		}),
		DiarizationAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "diarization_available",
			Help:      "1 when the engine reported diarization available",
		}),

		AlignedSegments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aligned_segments_total",
			Help:      "Aligned segments produced by attribution outcome",
		}, []string{"outcome"}),
		CoverageValidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coverage_validations_total",
			Help:      "Diarization coverage validations by result",
		}, []string{"result"}),
		CoverageRatio: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coverage_ratio",
			Help:      "Diarization coverage of validated windows",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 1},
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC calls by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session returning to idle.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.AudioBufferedSeconds.Set(0)
}

// RecordSessionFailed records a session entering the error state.
func (m *Metrics) RecordSessionFailed(reason string) {
	m.SessionsFailed.WithLabelValues(reason).Inc()
}

// RecordStartup records how long a session took to become active.
func (m *Metrics) RecordStartup(latencySeconds float64, optimistic bool) {
	m.StartupLatency.Observe(latencySeconds)
	if optimistic {
		m.StartupOptimistic.Inc()
	}
}

// RecordAudioReceived records an incoming chunk.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioChunksReceived.Inc()
}

// RecordAudioForwarded records chunks written to the engine.
func (m *Metrics) RecordAudioForwarded(chunks int) {
	m.AudioChunksForwarded.Add(float64(chunks))
}

// RecordAudioDropped records buffered chunks dropped on overflow.
func (m *Metrics) RecordAudioDropped(chunks int) {
	m.AudioChunksDropped.Add(float64(chunks))
}

// RecordAudioDiscarded records a chunk discarded while paused.
func (m *Metrics) RecordAudioDiscarded() {
	m.AudioChunksDiscarded.Inc()
}

// SetBuffered reports the current startup buffer size in seconds.
func (m *Metrics) SetBuffered(seconds float64) {
	m.AudioBufferedSeconds.Set(seconds)
}

// RecordLimitExceeded records when a chunk limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.ChunkLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordEngineLaunch records an engine launch.
func (m *Metrics) RecordEngineLaunch() {
	m.EngineLaunches.Inc()
}

// RecordEngineCrash records an unexpected engine exit.
func (m *Metrics) RecordEngineCrash(kind string) {
	m.EngineCrashes.WithLabelValues(kind).Inc()
}

// RecordEngineMessage records a decoded engine message.
func (m *Metrics) RecordEngineMessage(msgType string) {
	m.EngineMessages.WithLabelValues(msgType).Inc()
}

// RecordDecodeError records an undecodable engine line.
func (m *Metrics) RecordDecodeError() {
	m.EngineDecodeErrors.Inc()
}

// RecordTranscript records an emitted transcript segment.
func (m *Metrics) RecordTranscript(final, fallback bool) {
	if final {
		m.TranscriptsFinal.Inc()
	} else {
		m.TranscriptsPartial.Inc()
	}
	if fallback {
		m.FallbackSegments.Inc()
	}
}

// RecordDiarizationWarning records a health warning.
func (m *Metrics) RecordDiarizationWarning() {
	m.DiarizationWarnings.Inc()
}

// RecordDiarizationRecovery records a recovery that cleared a warning.
func (m *Metrics) RecordDiarizationRecovery() {
	m.DiarizationRecoveries.Inc()
}

// SetDiarizationAvailable reports diarization availability.
func (m *Metrics) SetDiarizationAvailable(available bool) {
	if available {
		m.DiarizationAvailable.Set(1)
	} else {
		m.DiarizationAvailable.Set(0)
	}
}

// RecordAligned records an aligned segment by outcome.
func (m *Metrics) RecordAligned(outcome string) {
	m.AlignedSegments.WithLabelValues(outcome).Inc()
}

// RecordCoverage records a coverage validation.
func (m *Metrics) RecordCoverage(valid bool, coverage float64) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.CoverageValidations.WithLabelValues(result).Inc()
	m.CoverageRatio.Observe(coverage)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPC records a gRPC call.
func (m *Metrics) RecordGRPC(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
