// Package models defines the data structures shared by the transcription core
// and the events it publishes.
package models

// UnknownSpeaker is assigned when diarization cannot attribute a segment.
const UnknownSpeaker = "UNKNOWN"

// TranscriptSegment is a transcription result emitted by the engine.
// Times are seconds on the session timeline.
type TranscriptSegment struct {
	ID                string   `json:"id" validate:"required"`
	SessionID         string   `json:"sessionId" validate:"required"`
	Text              string   `json:"text"`
	Start             float64  `json:"start" validate:"gte=0"`
	End               float64  `json:"end" validate:"gtefield=Start"`
	Confidence        float64  `json:"confidence" validate:"gte=0,lte=1"`
	IsFinal           bool     `json:"isFinal"`
	SpeakerLabel      string   `json:"speakerLabel,omitempty"`
	SpeakerID         string   `json:"speakerId,omitempty"`
	SpeakerConfidence *float64 `json:"speakerConfidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Fallback          bool     `json:"fallback"`
}

// Duration returns the segment length in seconds.
func (s TranscriptSegment) Duration() float64 {
	return s.End - s.Start
}

// DiarizationSegment is an audio-derived speaker interval.
type DiarizationSegment struct {
	SpeakerID  string  `json:"speakerId" validate:"required"`
	Start      float64 `json:"start" validate:"gte=0"`
	End        float64 `json:"end" validate:"gtefield=Start"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// AlignedSegment is a speaker-attributed slice of a transcript segment.
// Times are milliseconds.
type AlignedSegment struct {
	Text                    string  `json:"text"`
	StartMs                 int64   `json:"startMs"`
	EndMs                   int64   `json:"endMs"`
	SpeakerID               string  `json:"speakerId"`
	SpeakerConfidence       float64 `json:"speakerConfidence"`
	TranscriptionConfidence float64 `json:"transcriptionConfidence"`
	OverlapPercentage       float64 `json:"overlapPercentage"`
	WasSplit                bool    `json:"wasSplit"`
	SourceIndex             int     `json:"sourceIndex"`
}

// SpeakerChange is forwarded from the engine for downstream correlation.
type SpeakerChange struct {
	SessionID   string  `json:"sessionId"`
	FromSpeaker string  `json:"fromSpeaker,omitempty"`
	ToSpeaker   string  `json:"toSpeaker"`
	Timestamp   float64 `json:"timestamp"`
}
