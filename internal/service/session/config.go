package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the per-session engine configuration supplied with Start.
type Config struct {
	Language             string  `json:"language" yaml:"language" validate:"required"`
	ModelSize            string  `json:"modelSize" yaml:"modelSize" validate:"required"`
	SampleRate           int     `json:"sampleRate" yaml:"sampleRate" validate:"omitempty,min=8000,max=192000"`
	ChunkDuration        float64 `json:"chunkDuration" yaml:"chunkDuration" validate:"gt=0,lte=30"`
	ConfidenceThreshold  float64 `json:"confidenceThreshold" yaml:"confidenceThreshold" validate:"gte=0,lte=1"`
	Diarization          bool    `json:"diarization" yaml:"diarization"`
	DiarizationThreshold float64 `json:"diarizationThreshold" yaml:"diarizationThreshold" validate:"gte=0,lte=1"`
	MaxSpeakers          int     `json:"maxSpeakers" yaml:"maxSpeakers" validate:"min=1,max=20"`
	TimeOffset           float64 `json:"timeOffset" yaml:"timeOffset" validate:"gte=0"`
}

// DefaultConfig returns the configuration used for zero-valued fields.
func DefaultConfig() Config {
	return Config{
		Language:             "auto",
		ModelSize:            "base",
		SampleRate:           16000,
		ChunkDuration:        3,
		ConfidenceThreshold:  0.3,
		Diarization:          true,
		DiarizationThreshold: 0.5,
		MaxSpeakers:          8,
	}
}

// WithDefaults fills zero fields from DefaultConfig. Diarization and
// TimeOffset are taken as given.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.ModelSize == "" {
		c.ModelSize = d.ModelSize
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.ChunkDuration == 0 {
		c.ChunkDuration = d.ChunkDuration
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.DiarizationThreshold == 0 {
		c.DiarizationThreshold = d.DiarizationThreshold
	}
	if c.MaxSpeakers == 0 {
		c.MaxSpeakers = d.MaxSpeakers
	}
	return c
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks field ranges.
func (c Config) Validate() error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("session: invalid config: %w", err)
	}
	return nil
}

// Options tune the controller's timeouts and buffering.
type Options struct {
	// NoAudioTimeout fails a start that never receives a chunk.
	NoAudioTimeout time.Duration
	// ReadyTimeout activates the session optimistically if the engine never
	// reports ready.
	ReadyTimeout time.Duration
	// StopGrace is how long Stop waits for the engine to exit.
	StopGrace time.Duration
	// MaxBuffer bounds the startup buffer by audio duration.
	MaxBuffer time.Duration
	// ResolveTimeout bounds a single speaker registry lookup.
	ResolveTimeout time.Duration
}

// DefaultOptions returns the production timeouts.
func DefaultOptions() Options {
	return Options{
		NoAudioTimeout: 30 * time.Second,
		ReadyTimeout:   120 * time.Second,
		StopGrace:      5 * time.Second,
		MaxBuffer:      30 * time.Second,
		ResolveTimeout: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NoAudioTimeout <= 0 {
		o.NoAudioTimeout = d.NoAudioTimeout
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = d.ReadyTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = d.StopGrace
	}
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = d.MaxBuffer
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = d.ResolveTimeout
	}
	return o
}
