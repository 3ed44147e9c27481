package alignment

import (
	"fmt"
	"math"
	"sort"

	"live-transcript-service/internal/models"
)

// Coverage thresholds.
const (
	DefaultMinCoverage   = 0.5
	StreamingMinCoverage = 0.3
	warnCoverage         = 0.8
)

// CoverageOptions controls ValidateCoverage.
type CoverageOptions struct {
	MinCoverage         float64
	MaxSpeakerGap       float64
	RequireFullCoverage bool
}

// DefaultCoverageOptions returns options for batch use.
func DefaultCoverageOptions() CoverageOptions {
	return CoverageOptions{MinCoverage: DefaultMinCoverage, MaxSpeakerGap: 0.5}
}

// StreamingCoverageOptions returns the relaxed options used for live sessions.
func StreamingCoverageOptions() CoverageOptions {
	return CoverageOptions{MinCoverage: StreamingMinCoverage, MaxSpeakerGap: 0.5}
}

// Gap is an uncovered interval in seconds.
type Gap struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the gap length.
func (g Gap) Duration() float64 { return g.End - g.Start }

// CoverageResult is returned instead of an error: insufficient coverage is a
// caller decision, not a fault.
type CoverageResult struct {
	Valid          bool     `json:"valid"`
	Coverage       float64  `json:"coverage"`
	CoveredSeconds float64  `json:"coveredSeconds"`
	WindowSeconds  float64  `json:"windowSeconds"`
	Gaps           []Gap    `json:"gaps,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// ValidateCoverage measures how much of [windowStart, windowEnd) is covered by
// diarization. When Valid is false the caller must not substitute a text-based
// speaker guess: it either withholds attribution or blocks dependent work.
func ValidateCoverage(windowStart, windowEnd float64, segments []models.DiarizationSegment, opts CoverageOptions) CoverageResult {
	if opts.MaxSpeakerGap <= 0 {
		opts.MaxSpeakerGap = 0.5
	}
	window := windowEnd - windowStart
	res := CoverageResult{WindowSeconds: math.Max(window, 0)}

	if len(segments) == 0 {
		res.Reason = "no diarization segments available"
		return res
	}
	if window <= 0 {
		res.Reason = "empty time window"
		return res
	}

	intervals := make([]Gap, 0, len(segments))
	for _, s := range segments {
		start := math.Max(s.Start, windowStart)
		end := math.Min(s.End, windowEnd)
		if end > start {
			intervals = append(intervals, Gap{Start: start, End: end})
		}
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

	merged := make([]Gap, 0, len(intervals))
	for _, iv := range intervals {
		if n := len(merged); n > 0 && iv.Start <= merged[n-1].End {
			merged[n-1].End = math.Max(merged[n-1].End, iv.End)
			continue
		}
		merged = append(merged, iv)
	}

	cursor := windowStart
	for _, iv := range merged {
		res.CoveredSeconds += iv.End - iv.Start
		if iv.Start-cursor > opts.MaxSpeakerGap {
			res.Gaps = append(res.Gaps, Gap{Start: cursor, End: iv.Start})
		}
		cursor = iv.End
	}
	if windowEnd-cursor > opts.MaxSpeakerGap {
		res.Gaps = append(res.Gaps, Gap{Start: cursor, End: windowEnd})
	}
	res.Coverage = res.CoveredSeconds / window

	switch {
	case res.Coverage < opts.MinCoverage:
		res.Reason = fmt.Sprintf("diarization coverage %.1f%% below minimum %.1f%%",
			res.Coverage*100, opts.MinCoverage*100)
		return res
	case opts.RequireFullCoverage && res.Coverage < 1:
		res.Reason = fmt.Sprintf("full diarization coverage required, got %.1f%%", res.Coverage*100)
		return res
	}

	res.Valid = true
	if res.Coverage < warnCoverage {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("diarization coverage below 80%% (%.1f%%)", res.Coverage*100))
	}
	if len(res.Gaps) > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d diarization gap(s) longer than %.2fs", len(res.Gaps), opts.MaxSpeakerGap))
	}
	return res
}
