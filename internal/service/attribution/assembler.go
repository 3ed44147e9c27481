// Package attribution combines the transcript and diarization streams of a
// session into a speaker-attributed transcript.
//
// Attribution is gated on diarization coverage. When coverage is insufficient
// the assembler never falls back to guessing speakers from text: depending on
// the policy it either marks every segment UNKNOWN or blocks the result.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/alignment"
)

// Policy decides what happens when coverage validation fails.
type Policy string

const (
	// PolicyWithhold hands the transcript on with every speaker UNKNOWN.
	PolicyWithhold Policy = "withhold"
	// PolicyBlock hands nothing on.
	PolicyBlock Policy = "block"
)

// ParsePolicy accepts "withhold" or "block"; empty means withhold.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyWithhold:
		return PolicyWithhold, nil
	case PolicyBlock:
		return PolicyBlock, nil
	default:
		return "", fmt.Errorf("attribution: unknown policy %q", s)
	}
}

// Outcome describes how a Result was produced.
type Outcome string

const (
	OutcomeAttributed Outcome = "attributed"
	OutcomeWithheld   Outcome = "withheld"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeEmpty      Outcome = "empty"
)

// ErrBlocked is returned by Flush when the policy blocked the result.
var ErrBlocked = errors.New("attribution: blocked by insufficient diarization coverage")

// Options configures attribution.
type Options struct {
	Align    alignment.Options
	Coverage alignment.CoverageOptions
	Policy   Policy
}

// DefaultOptions returns the live-session defaults.
func DefaultOptions() Options {
	return Options{
		Align:    alignment.DefaultOptions(),
		Coverage: alignment.StreamingCoverageOptions(),
		Policy:   PolicyWithhold,
	}
}

// Result is one attribution pass over a transcript.
type Result struct {
	SessionID    string                   `json:"sessionId,omitempty"`
	RecordingRef string                   `json:"recordingRef,omitempty"`
	Outcome      Outcome                  `json:"outcome"`
	Segments     []models.AlignedSegment  `json:"segments"`
	Coverage     alignment.CoverageResult `json:"coverage"`
	Stats        alignment.Stats          `json:"stats"`
}

// Attributed reports whether speakers came from diarization.
func (r Result) Attributed() bool {
	return r.Outcome == OutcomeAttributed
}

// Attribute aligns segments against diarization over the window the segments
// span, applying the policy when coverage is insufficient. Results are in
// start order; SourceIndex refers to the caller's slice.
func Attribute(segments []models.TranscriptSegment, diarization []models.DiarizationSegment, opts Options) Result {
	if len(segments) == 0 {
		return Result{Outcome: OutcomeEmpty}
	}
	windowStart, windowEnd := segments[0].Start, segments[0].End
	for _, s := range segments[1:] {
		windowStart = min(windowStart, s.Start)
		windowEnd = max(windowEnd, s.End)
	}

	res := Result{Coverage: alignment.ValidateCoverage(windowStart, windowEnd, diarization, opts.Coverage)}
	switch {
	case res.Coverage.Valid:
		res.Outcome = OutcomeAttributed
		res.Segments = alignment.New(opts.Align).AlignSegments(segments, diarization)
	case opts.Policy == PolicyBlock:
		res.Outcome = OutcomeBlocked
	default:
		res.Outcome = OutcomeWithheld
		res.Segments = unattributed(segments)
	}
	res.Stats = alignment.ComputeStats(res.Segments)
	return res
}

func unattributed(segs []models.TranscriptSegment) []models.AlignedSegment {
	out := make([]models.AlignedSegment, len(segs))
	for i, s := range segs {
		out[i] = models.AlignedSegment{
			Text:                    s.Text,
			StartMs:                 int64(math.Round(s.Start * 1000)),
			EndMs:                   int64(math.Round(s.End * 1000)),
			SpeakerID:               models.UnknownSpeaker,
			TranscriptionConfidence: s.Confidence,
			SourceIndex:             i,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out
}

// Sink accepts finished transcripts.
type Sink interface {
	Persist(ctx context.Context, r Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Result) error

// Persist calls f.
func (f SinkFunc) Persist(ctx context.Context, r Result) error {
	return f(ctx, r)
}

// Assembler collects one session's final segments and diarization intervals.
// Safe for concurrent use.
type Assembler struct {
	opts    Options
	sink    Sink
	metrics *metrics.Metrics

	mu          sync.Mutex
	sessionID   string
	ref         string
	segments    []models.TranscriptSegment
	diarization []models.DiarizationSegment
	logger      zerolog.Logger
}

// NewAssembler creates an assembler. sink may be nil.
func NewAssembler(opts Options, sink Sink, m *metrics.Metrics) *Assembler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if opts.Policy == "" {
		opts.Policy = PolicyWithhold
	}
	return &Assembler{
		opts:    opts,
		sink:    sink,
		metrics: m,
		logger:  log.With().Str("component", "attribution").Logger(),
	}
}

// Begin discards collected data and starts collecting for a new session.
func (a *Assembler) Begin(sessionID, recordingRef string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = sessionID
	a.ref = recordingRef
	a.segments = nil
	a.diarization = nil
	a.logger = log.With().
		Str("component", "attribution").
		Str("sessionId", sessionID).
		Logger()
}

// AddSegment records a transcript segment. Partial results are ignored, as are
// segments of another session.
func (a *Assembler) AddSegment(seg models.TranscriptSegment) {
	if !seg.IsFinal {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID != "" && seg.SessionID != a.sessionID {
		return
	}
	a.segments = append(a.segments, seg)
}

// AddDiarization records a diarization interval.
func (a *Assembler) AddDiarization(seg models.DiarizationSegment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.diarization = append(a.diarization, seg)
}

// Counts returns how many segments and intervals are held.
func (a *Assembler) Counts() (segments, diarization int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments), len(a.diarization)
}

// Assemble attributes what has been collected so far.
func (a *Assembler) Assemble() Result {
	a.mu.Lock()
	segs := append([]models.TranscriptSegment(nil), a.segments...)
	diar := append([]models.DiarizationSegment(nil), a.diarization...)
	id, ref, logger := a.sessionID, a.ref, a.logger
	a.mu.Unlock()

	start := time.Now()
	res := Attribute(segs, diar, a.opts)
	res.SessionID = id
	res.RecordingRef = ref

	a.metrics.RecordAligned(string(res.Outcome))
	if res.Outcome != OutcomeEmpty {
		a.metrics.RecordCoverage(res.Coverage.Valid, res.Coverage.Coverage)
	}
	ev := logger.Info()
	if !res.Coverage.Valid && res.Outcome != OutcomeEmpty {
		ev = logger.Warn().Str("reason", res.Coverage.Reason)
	}
	ev.Str("outcome", string(res.Outcome)).
		Int("segments", len(segs)).
		Int("diarization", len(diar)).
		Float64("coverage", res.Coverage.Coverage).
		Int("speakers", res.Stats.UniqueSpeakers).
		Dur("took", time.Since(start)).
		Msg("Transcript assembled")
	return res
}

// Flush assembles the collected data and delivers it.
func (a *Assembler) Flush(ctx context.Context) (Result, error) {
	res := a.Assemble()
	return res, a.Deliver(ctx, res)
}

// Deliver hands res to the sink. A blocked result is not handed on and yields
// ErrBlocked; an empty one is skipped.
func (a *Assembler) Deliver(ctx context.Context, res Result) error {
	switch res.Outcome {
	case OutcomeEmpty:
		return nil
	case OutcomeBlocked:
		return ErrBlocked
	}
	if a.sink == nil {
		return nil
	}
	if err := a.sink.Persist(ctx, res); err != nil {
		return fmt.Errorf("attribution: persist: %w", err)
	}
	return nil
}
