package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestArgv_WithDiarization(t *testing.T) {
	args := LaunchArgs{
		ModelSize:            "small",
		Language:             "en",
		SampleRate:           48000,
		Channels:             2,
		BitDepth:             16,
		ChunkDuration:        2.5,
		ConfidenceThreshold:  0.4,
		Diarization:          true,
		DiarizationThreshold: 0.7,
		MaxSpeakers:          6,
		TimeOffset:           12.25,
	}

	want := []string{
		"--model", "small",
		"--language", "en",
		"--sample-rate", "48000",
		"--channels", "2",
		"--bit-depth", "16",
		"--chunk-duration", "2.5",
		"--confidence-threshold", "0.4",
		"--diarization",
		"--diarization-threshold", "0.7",
		"--max-speakers", "6",
		"--time-offset", "12.25",
	}
	assert.Equal(t, want, args.Argv())
}

func TestArgv_WithoutDiarization(t *testing.T) {
	argv := LaunchArgs{ModelSize: "base", Language: "auto", SampleRate: 16000, Channels: 1, BitDepth: 16}.Argv()

	assert.Contains(t, argv, "--no-diarization")
	assert.NotContains(t, argv, "--max-speakers")
	assert.Equal(t, []string{"--time-offset", "0"}, argv[len(argv)-2:])
}

func TestTailWriter_KeepsLastLines(t *testing.T) {
	w := newTailWriter(2, zerolog.Nop())
	_, _ = w.Write([]byte("one\ntwo\nthr"))
	_, _ = w.Write([]byte("ee\nfour"))

	assert.Equal(t, []string{"three", "four"}, w.Lines())
}
