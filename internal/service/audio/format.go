package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFormat is returned for capture formats the engine cannot take.
var ErrInvalidFormat = errors.New("audio: invalid format")

// Format describes raw interleaved PCM as delivered by the capture source.
type Format struct {
	SampleRate int `json:"sampleRate" validate:"required,min=8000,max=192000"`
	Channels   int `json:"channels" validate:"required,min=1,max=8"`
	BitDepth   int `json:"bitDepth" validate:"required,oneof=8 16 24 32"`
}

// Validate checks the format is usable.
func (f Format) Validate() error {
	switch {
	case f.SampleRate < 8000 || f.SampleRate > 192000:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	case f.Channels < 1 || f.Channels > 8:
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	case f.BitDepth != 8 && f.BitDepth != 16 && f.BitDepth != 24 && f.BitDepth != 32:
		return fmt.Errorf("%w: bit depth %d", ErrInvalidFormat, f.BitDepth)
	}
	return nil
}

// BytesPerSecond is the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// FrameSize is the size of one sample across all channels.
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// Seconds converts a byte count to seconds of audio.
func (f Format) Seconds(n int) float64 {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

// BytesFor returns the byte count for d of audio, rounded down to whole frames.
func (f Format) BytesFor(d time.Duration) int {
	n := int(d.Seconds() * float64(f.BytesPerSecond()))
	if fs := f.FrameSize(); fs > 0 {
		n -= n % fs
	}
	return n
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}
