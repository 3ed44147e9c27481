// Package engine defines the line-delimited JSON protocol spoken by the
// external recognition engine and the process that runs it.
package engine

// Type is the value of the "type" discriminator on every engine message.
type Type string

const (
	TypeReady                  Type = "ready"
	TypeStatus                 Type = "status"
	TypeSegment                Type = "segment"
	TypeSpeakerSegment         Type = "speaker_segment"
	TypeSpeakerChange          Type = "speaker_change"
	TypeDiarizationAvailable   Type = "diarization_available"
	TypeDiarizationUnavailable Type = "diarization_unavailable"
	TypeHealthWarning          Type = "diarization_health_warning"
	TypeHealthRecovery         Type = "diarization_health_recovery"
	TypeSerializationError     Type = "serialization_error"
	TypeError                  Type = "error"
	TypeComplete               Type = "complete"
)

// Message is the closed set of engine messages. Each concrete type dispatches
// itself to the matching Handler method.
type Message interface {
	Type() Type
	Accept(h Handler)
}

// Handler receives decoded engine messages.
type Handler interface {
	OnReady(Ready)
	OnStatus(Status)
	OnSegment(Segment)
	OnSpeakerSegment(SpeakerSegment)
	OnSpeakerChange(SpeakerChange)
	OnDiarizationAvailable(DiarizationAvailable)
	OnDiarizationUnavailable(DiarizationUnavailable)
	OnHealthWarning(HealthWarning)
	OnHealthRecovery(HealthRecovery)
	OnSerializationError(SerializationError)
	OnError(Error)
	OnComplete(Complete)
}

// Ready signals the engine has loaded its models and is reading audio.
type Ready struct {
	Model   string `json:"model,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status is a progress heartbeat.
type Status struct {
	Message  string  `json:"message"`
	Progress float64 `json:"progress,omitempty"`
	Filtered bool    `json:"filtered,omitempty"`
	NoVoice  bool    `json:"no_voice,omitempty"`
}

// Segment is a transcription result. Times are seconds relative to the
// first byte the engine received (plus its configured time offset).
type Segment struct {
	Text              string   `json:"text"`
	Start             float64  `json:"start"`
	End               float64  `json:"end"`
	Confidence        float64  `json:"confidence"`
	IsFinal           bool     `json:"is_final"`
	Speaker           string   `json:"speaker,omitempty"`
	SpeakerConfidence *float64 `json:"speaker_confidence,omitempty"`
}

// SpeakerSegment is a diarization interval.
type SpeakerSegment struct {
	Speaker    string  `json:"speaker"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// SpeakerChange marks the point where the active speaker changed.
type SpeakerChange struct {
	FromSpeaker string  `json:"from_speaker,omitempty"`
	ToSpeaker   string  `json:"to_speaker"`
	Timestamp   float64 `json:"timestamp"`
}

// DiarizationAvailable reports that diarization loaded successfully.
type DiarizationAvailable struct {
	Backend string `json:"backend,omitempty"`
	Message string `json:"message,omitempty"`
}

// DiarizationUnavailable reports that diarization cannot run.
type DiarizationUnavailable struct {
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

// HealthWarning reports repeated diarization failures.
type HealthWarning struct {
	Message             string `json:"message,omitempty"`
	Reason              string `json:"reason"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalFailures       int    `json:"total_failures"`
	Recoverable         bool   `json:"recoverable"`
	Recommendation      string `json:"recommendation,omitempty"`
}

// HealthRecovery reports that diarization works again.
type HealthRecovery struct {
	Message           string `json:"message,omitempty"`
	PreviousFailures  *int   `json:"previous_failures,omitempty"`
	SegmentsProcessed int    `json:"segments_processed"`
}

// SerializationError is emitted when the engine failed to encode a result.
type SerializationError struct {
	Message string `json:"message"`
}

// Error is a fatal error reported by the engine.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Complete is the final progress marker after end of input.
type Complete struct {
	TotalSegments int     `json:"total_segments,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
}

func (Ready) Type() Type                  { return TypeReady }
func (Status) Type() Type                 { return TypeStatus }
func (Segment) Type() Type                { return TypeSegment }
func (SpeakerSegment) Type() Type         { return TypeSpeakerSegment }
func (SpeakerChange) Type() Type          { return TypeSpeakerChange }
func (DiarizationAvailable) Type() Type   { return TypeDiarizationAvailable }
func (DiarizationUnavailable) Type() Type { return TypeDiarizationUnavailable }
func (HealthWarning) Type() Type          { return TypeHealthWarning }
func (HealthRecovery) Type() Type         { return TypeHealthRecovery }
func (SerializationError) Type() Type     { return TypeSerializationError }
func (Error) Type() Type                  { return TypeError }
func (Complete) Type() Type               { return TypeComplete }

func (m Ready) Accept(h Handler)                  { h.OnReady(m) }
func (m Status) Accept(h Handler)                 { h.OnStatus(m) }
func (m Segment) Accept(h Handler)                { h.OnSegment(m) }
func (m SpeakerSegment) Accept(h Handler)         { h.OnSpeakerSegment(m) }
func (m SpeakerChange) Accept(h Handler)          { h.OnSpeakerChange(m) }
func (m DiarizationAvailable) Accept(h Handler)   { h.OnDiarizationAvailable(m) }
func (m DiarizationUnavailable) Accept(h Handler) { h.OnDiarizationUnavailable(m) }
func (m HealthWarning) Accept(h Handler)          { h.OnHealthWarning(m) }
func (m HealthRecovery) Accept(h Handler)         { h.OnHealthRecovery(m) }
func (m SerializationError) Accept(h Handler)     { h.OnSerializationError(m) }
func (m Error) Accept(h Handler)                  { h.OnError(m) }
func (m Complete) Accept(h Handler)               { h.OnComplete(m) }
