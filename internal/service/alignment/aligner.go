// Package alignment maps transcript segments onto diarization segments.
//
// Speaker identity comes only from the diarization time ranges. Text is never
// used to guess a speaker; it is only sliced proportionally when a transcript
// segment spans a speaker change.
package alignment

import (
	"math"
	"sort"
	"strings"

	"live-transcript-service/internal/models"
)

// Options tunes the alignment algorithm.
type Options struct {
	// MaxSpeakerGap is the largest gap (seconds) between a transcript segment
	// and a neighbouring diarization segment for proximity attribution.
	MaxSpeakerGap float64
	// FallbackPenalty scales the confidence of a proximity attribution.
	FallbackPenalty float64
	// EnableSplitting allows a transcript segment to be split at speaker changes.
	EnableSplitting bool
}

// DefaultOptions returns the standard alignment options.
func DefaultOptions() Options {
	return Options{
		MaxSpeakerGap:   0.5,
		FallbackPenalty: 0.5,
		EnableSplitting: true,
	}
}

// Aligner performs temporal alignment. It holds no state beyond its options.
type Aligner struct {
	opts Options
}

// New creates an Aligner. Zero values in opts fall back to the defaults,
// except EnableSplitting which is taken as given.
func New(opts Options) *Aligner {
	def := DefaultOptions()
	if opts.MaxSpeakerGap <= 0 {
		opts.MaxSpeakerGap = def.MaxSpeakerGap
	}
	if opts.FallbackPenalty <= 0 {
		opts.FallbackPenalty = def.FallbackPenalty
	}
	return &Aligner{opts: opts}
}

// Options returns the aligner's effective options.
func (a *Aligner) Options() Options {
	return a.opts
}

type overlapCandidate struct {
	seg     models.DiarizationSegment
	overlap float64
}

// AlignSegment attributes one transcript segment. The returned sub-segments
// partition the original segment's time range.
func (a *Aligner) AlignSegment(seg models.TranscriptSegment, index int, diarization []models.DiarizationSegment) []models.AlignedSegment {
	duration := seg.End - seg.Start

	var candidates []overlapCandidate
	for _, d := range diarization {
		ov := overlap(seg.Start, seg.End, d.Start, d.End)
		if ov > 0 {
			candidates = append(candidates, overlapCandidate{seg: d, overlap: ov})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].overlap > candidates[j].overlap
	})

	if len(candidates) == 0 || duration <= 0 {
		return []models.AlignedSegment{a.proximity(seg, index, diarization)}
	}

	if len(candidates) == 1 || !a.opts.EnableSplitting {
		return []models.AlignedSegment{single(seg, index, candidates[0])}
	}

	if parts := a.split(seg, index, candidates); len(parts) > 0 {
		return parts
	}
	return []models.AlignedSegment{single(seg, index, candidates[0])}
}

// AlignSegments aligns every segment and returns the results sorted by start.
func (a *Aligner) AlignSegments(segments []models.TranscriptSegment, diarization []models.DiarizationSegment) []models.AlignedSegment {
	out := make([]models.AlignedSegment, 0, len(segments))
	for i, seg := range segments {
		out = append(out, a.AlignSegment(seg, i, diarization)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartMs < out[j].StartMs
	})
	return out
}

// proximity handles a transcript segment with no overlapping diarization.
func (a *Aligner) proximity(seg models.TranscriptSegment, index int, diarization []models.DiarizationSegment) models.AlignedSegment {
	var before, after *models.DiarizationSegment
	for i := range diarization {
		d := &diarization[i]
		if d.End <= seg.Start && (before == nil || d.End > before.End) {
			before = d
		}
		if d.Start >= seg.End && (after == nil || d.Start < after.Start) {
			after = d
		}
	}

	var best *models.DiarizationSegment
	bestGap := math.Inf(1)
	if before != nil {
		if gap := seg.Start - before.End; gap <= a.opts.MaxSpeakerGap+epsilon && gap < bestGap {
			best, bestGap = before, gap
		}
	}
	if after != nil {
		if gap := after.Start - seg.End; gap <= a.opts.MaxSpeakerGap+epsilon && gap < bestGap {
			best = after
		}
	}

	out := models.AlignedSegment{
		Text:                    seg.Text,
		StartMs:                 toMs(seg.Start),
		EndMs:                   toMs(seg.End),
		SpeakerID:               models.UnknownSpeaker,
		TranscriptionConfidence: seg.Confidence,
		SourceIndex:             index,
	}
	if best != nil {
		out.SpeakerID = best.SpeakerID
		out.SpeakerConfidence = best.Confidence * a.opts.FallbackPenalty
	}
	return out
}

func single(seg models.TranscriptSegment, index int, c overlapCandidate) models.AlignedSegment {
	return models.AlignedSegment{
		Text:                    seg.Text,
		StartMs:                 toMs(seg.Start),
		EndMs:                   toMs(seg.End),
		SpeakerID:               c.seg.SpeakerID,
		SpeakerConfidence:       c.seg.Confidence,
		TranscriptionConfidence: seg.Confidence,
		OverlapPercentage:       c.overlap / (seg.End - seg.Start),
		SourceIndex:             index,
	}
}

type subRange struct {
	start, end float64
	speaker    models.DiarizationSegment
}

// split partitions seg at speaker-change points. It returns nil when no
// change point exists inside the segment.
func (a *Aligner) split(seg models.TranscriptSegment, index int, candidates []overlapCandidate) []models.AlignedSegment {
	ordered := make([]models.DiarizationSegment, len(candidates))
	for i, c := range candidates {
		ordered[i] = c.seg
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	ranges := []subRange{{start: seg.Start, speaker: ordered[0]}}
	for _, d := range ordered[1:] {
		current := &ranges[len(ranges)-1]
		if d.SpeakerID == current.speaker.SpeakerID {
			continue
		}
		cp := math.Max(d.Start, seg.Start)
		switch {
		case cp <= current.start:
			// Change lands at the start of the current range.
			current.speaker = d
		case cp >= seg.End:
			continue
		default:
			current.end = cp
			ranges = append(ranges, subRange{start: cp, speaker: d})
		}
	}
	if len(ranges) < 2 {
		return nil
	}
	ranges[len(ranges)-1].end = seg.End

	words := strings.Fields(seg.Text)
	duration := seg.End - seg.Start
	count := float64(len(words))

	var out []models.AlignedSegment
	prevEnd := 0
	for _, r := range ranges {
		from := int(math.Floor((r.start - seg.Start) / duration * count))
		to := int(math.Ceil((r.end - seg.Start) / duration * count))
		if from < prevEnd {
			from = prevEnd
		}
		if to > len(words) {
			to = len(words)
		}
		if from >= to {
			continue
		}
		prevEnd = to

		rangeDur := r.end - r.start
		pct := 0.0
		if rangeDur > 0 {
			pct = overlap(r.start, r.end, r.speaker.Start, r.speaker.End) / rangeDur
		}
		out = append(out, models.AlignedSegment{
			Text:                    strings.Join(words[from:to], " "),
			StartMs:                 toMs(r.start),
			EndMs:                   toMs(r.end),
			SpeakerID:               r.speaker.SpeakerID,
			SpeakerConfidence:       r.speaker.Confidence,
			TranscriptionConfidence: seg.Confidence,
			OverlapPercentage:       pct,
			WasSplit:                true,
			SourceIndex:             index,
		})
	}
	return out
}

// epsilon absorbs float noise in gap comparisons (10.0-9.8 != 0.2 exactly).
const epsilon = 1e-9

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := math.Max(aStart, bStart)
	end := math.Min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}

func toMs(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}
