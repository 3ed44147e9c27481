package alignment

import (
	"sort"
	"strings"

	"live-transcript-service/internal/models"
)

// SpeakerStats aggregates one speaker's share of a transcript.
type SpeakerStats struct {
	SpeakerID       string  `json:"speakerId"`
	Words           int     `json:"words"`
	DurationSeconds float64 `json:"durationSeconds"`
	Participation   float64 `json:"participation"`
	Segments        int     `json:"segments"`
}

// Stats summarises an aligned transcript for reporting.
type Stats struct {
	UniqueSpeakers  int            `json:"uniqueSpeakers"`
	Speakers        []SpeakerStats `json:"speakers"`
	UnknownSegments int            `json:"unknownSegments"`
	SplitSegments   int            `json:"splitSegments"`
	TotalSegments   int            `json:"totalSegments"`
}

// ComputeStats aggregates aligned segments. UNKNOWN is counted separately and
// does not contribute to the unique speaker count. Participation is each
// speaker's share of attributed duration.
func ComputeStats(segments []models.AlignedSegment) Stats {
	st := Stats{TotalSegments: len(segments)}
	bySpeaker := make(map[string]*SpeakerStats)
	var attributed float64

	for _, s := range segments {
		if s.WasSplit {
			st.SplitSegments++
		}
		if s.SpeakerID == "" || s.SpeakerID == models.UnknownSpeaker {
			st.UnknownSegments++
			continue
		}
		sp, ok := bySpeaker[s.SpeakerID]
		if !ok {
			sp = &SpeakerStats{SpeakerID: s.SpeakerID}
			bySpeaker[s.SpeakerID] = sp
		}
		dur := float64(s.EndMs-s.StartMs) / 1000
		sp.Words += len(strings.Fields(s.Text))
		sp.DurationSeconds += dur
		sp.Segments++
		attributed += dur
	}

	st.UniqueSpeakers = len(bySpeaker)
	for _, sp := range bySpeaker {
		if attributed > 0 {
			sp.Participation = sp.DurationSeconds / attributed
		}
		st.Speakers = append(st.Speakers, *sp)
	}
	sort.Slice(st.Speakers, func(i, j int) bool {
		if st.Speakers[i].DurationSeconds != st.Speakers[j].DurationSeconds {
			return st.Speakers[i].DurationSeconds > st.Speakers[j].DurationSeconds
		}
		return st.Speakers[i].SpeakerID < st.Speakers[j].SpeakerID
	})
	return st
}
