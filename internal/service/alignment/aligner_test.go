package alignment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-transcript-service/internal/models"
)

func ts(start, end float64, text string) models.TranscriptSegment {
	return models.TranscriptSegment{Text: text, Start: start, End: end, Confidence: 0.8, IsFinal: true}
}

func ds(speaker string, start, end, conf float64) models.DiarizationSegment {
	return models.DiarizationSegment{SpeakerID: speaker, Start: start, End: end, Confidence: conf}
}

func TestAlignSegment_SingleSpeaker(t *testing.T) {
	a := New(DefaultOptions())

	got := a.AlignSegment(ts(2.0, 4.0, "hello there"), 0, []models.DiarizationSegment{ds("S0", 0, 5, 0.9)})

	require.Len(t, got, 1)
	assert.Equal(t, "S0", got[0].SpeakerID)
	assert.InDelta(t, 1.0, got[0].OverlapPercentage, 1e-9)
	assert.InDelta(t, 0.9, got[0].SpeakerConfidence, 1e-9)
	assert.False(t, got[0].WasSplit)
	assert.Equal(t, int64(2000), got[0].StartMs)
	assert.Equal(t, int64(4000), got[0].EndMs)
	assert.Equal(t, 0.8, got[0].TranscriptionConfidence)
}

func TestAlignSegment_SplitAtSpeakerChange(t *testing.T) {
	a := New(DefaultOptions())

	got := a.AlignSegment(ts(3.0, 7.0, "one two three four"), 4, []models.DiarizationSegment{
		ds("S0", 0, 5, 0.9),
		ds("S1", 5, 10, 0.7),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "S0", got[0].SpeakerID)
	assert.Equal(t, "S1", got[1].SpeakerID)
	assert.Equal(t, int64(5000), got[0].EndMs)
	assert.Equal(t, int64(5000), got[1].StartMs)
	assert.Equal(t, int64(3000), got[0].StartMs)
	assert.Equal(t, int64(7000), got[1].EndMs)
	for _, g := range got {
		assert.True(t, g.WasSplit)
		assert.Equal(t, 4, g.SourceIndex)
	}
	assert.Equal(t, "one two", got[0].Text)
	assert.Equal(t, "three four", got[1].Text)
	assert.InDelta(t, 0.9, got[0].SpeakerConfidence, 1e-9)
	assert.InDelta(t, 0.7, got[1].SpeakerConfidence, 1e-9)
}

func TestAlignSegment_SplitSlicesNeverOverlap(t *testing.T) {
	a := New(DefaultOptions())
	text := "a b c d e f g"

	got := a.AlignSegment(ts(0, 10, text), 0, []models.DiarizationSegment{
		ds("S0", 0, 3.3, 0.9),
		ds("S1", 3.3, 6.1, 0.9),
		ds("S0", 6.1, 10, 0.9),
	})

	require.Len(t, got, 3)
	var words []string
	for _, g := range got {
		words = append(words, strings.Fields(g.Text)...)
	}
	assert.Equal(t, strings.Fields(text), words)
}

func TestAlignSegment_SplittingDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableSplitting = false
	a := New(opts)

	got := a.AlignSegment(ts(3.0, 7.0, "one two three four"), 0, []models.DiarizationSegment{
		ds("S0", 0, 5.5, 0.9),
		ds("S1", 5.5, 10, 0.7),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "S0", got[0].SpeakerID, "highest overlap wins")
	assert.InDelta(t, 2.5/4.0, got[0].OverlapPercentage, 1e-9)
	assert.False(t, got[0].WasSplit)
}

func TestAlignSegment_MultipleOverlapsSameSpeaker(t *testing.T) {
	a := New(DefaultOptions())

	got := a.AlignSegment(ts(1, 5, "same voice throughout"), 0, []models.DiarizationSegment{
		ds("S2", 0, 2, 0.6),
		ds("S2", 2, 6, 0.8),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "S2", got[0].SpeakerID)
	assert.InDelta(t, 0.8, got[0].SpeakerConfidence, 1e-9, "uses the highest-overlap segment")
	assert.False(t, got[0].WasSplit)
}

func TestAlignSegment_ProximityFallback(t *testing.T) {
	a := New(DefaultOptions())

	got := a.AlignSegment(ts(10.0, 10.2, "yes"), 0, []models.DiarizationSegment{
		ds("S3", 8.0, 9.8, 0.8),
		ds("S4", 12.0, 14.0, 0.9),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "S3", got[0].SpeakerID)
	assert.InDelta(t, 0.4, got[0].SpeakerConfidence, 1e-9)
	assert.Zero(t, got[0].OverlapPercentage)
	assert.False(t, got[0].WasSplit)
}

func TestAlignSegment_ProximityPrefersCloserNeighbour(t *testing.T) {
	a := New(DefaultOptions())

	got := a.AlignSegment(ts(10.0, 11.0, "hm"), 0, []models.DiarizationSegment{
		ds("before", 5, 9.6, 0.8),
		ds("after", 11.1, 13, 0.6),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].SpeakerID)
	assert.InDelta(t, 0.3, got[0].SpeakerConfidence, 1e-9)
}

func TestAlignSegment_UnknownWhenNothingNearby(t *testing.T) {
	a := New(DefaultOptions())

	got := a.AlignSegment(ts(10.0, 11.0, "alone"), 2, []models.DiarizationSegment{
		ds("S0", 0, 5, 0.9),
		ds("S1", 20, 25, 0.9),
	})

	require.Len(t, got, 1)
	assert.Equal(t, models.UnknownSpeaker, got[0].SpeakerID)
	assert.Zero(t, got[0].SpeakerConfidence)
	assert.Equal(t, 2, got[0].SourceIndex)
}

func TestAlignSegment_NoDiarization(t *testing.T) {
	a := New(DefaultOptions())

	got := a.AlignSegment(ts(1, 2, "text"), 0, nil)

	require.Len(t, got, 1)
	assert.Equal(t, models.UnknownSpeaker, got[0].SpeakerID)
}

func TestAlignSegments_SortedByStart(t *testing.T) {
	a := New(DefaultOptions())
	diar := []models.DiarizationSegment{ds("S0", 0, 5, 0.9), ds("S1", 5, 10, 0.8)}

	got := a.AlignSegments([]models.TranscriptSegment{
		ts(6, 8, "later words"),
		ts(3, 7, "one two three four"),
		ts(0, 1, "first"),
	}, diar)

	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].StartMs, got[i].StartMs)
	}
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, 2, got[0].SourceIndex)
}

func TestComputeStats(t *testing.T) {
	a := New(DefaultOptions())
	diar := []models.DiarizationSegment{ds("S0", 0, 5, 0.9), ds("S1", 5, 10, 0.8)}

	aligned := a.AlignSegments([]models.TranscriptSegment{
		ts(0, 2, "hello there"),
		ts(3, 7, "one two three four"),
		ts(30, 31, "nobody"),
	}, diar)
	st := ComputeStats(aligned)

	assert.Equal(t, 2, st.UniqueSpeakers)
	assert.Equal(t, 1, st.UnknownSegments)
	assert.Equal(t, 2, st.SplitSegments)
	assert.Equal(t, 4, st.TotalSegments)
	require.Len(t, st.Speakers, 2)
	assert.Equal(t, "S0", st.Speakers[0].SpeakerID)
	assert.Equal(t, 4, st.Speakers[0].Words)
	assert.InDelta(t, 4.0, st.Speakers[0].DurationSeconds, 1e-9)
	assert.InDelta(t, 2.0/3.0, st.Speakers[0].Participation, 1e-9)
	assert.InDelta(t, 1.0/3.0, st.Speakers[1].Participation, 1e-9)
}
