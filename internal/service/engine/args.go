package engine

import "strconv"

// LaunchArgs is the fixed argument vector passed to the engine at launch.
type LaunchArgs struct {
	ModelSize            string
	Language             string
	SampleRate           int
	Channels             int
	BitDepth             int
	ChunkDuration        float64
	ConfidenceThreshold  float64
	Diarization          bool
	DiarizationThreshold float64
	MaxSpeakers          int
	TimeOffset           float64
}

// Argv renders the arguments in the order the engine expects.
func (a LaunchArgs) Argv() []string {
	argv := []string{
		"--model", a.ModelSize,
		"--language", a.Language,
		"--sample-rate", strconv.Itoa(a.SampleRate),
		"--channels", strconv.Itoa(a.Channels),
		"--bit-depth", strconv.Itoa(a.BitDepth),
		"--chunk-duration", formatFloat(a.ChunkDuration),
		"--confidence-threshold", formatFloat(a.ConfidenceThreshold),
	}
	if a.Diarization {
		argv = append(argv,
			"--diarization",
			"--diarization-threshold", formatFloat(a.DiarizationThreshold),
			"--max-speakers", strconv.Itoa(a.MaxSpeakers),
		)
	} else {
		argv = append(argv, "--no-diarization")
	}
	return append(argv, "--time-offset", formatFloat(a.TimeOffset))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
