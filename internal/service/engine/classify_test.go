package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status ExitStatus
		want   CrashKind
	}{
		{"sigkill", ExitStatus{Code: -1, Signal: "killed"}, CrashKilled},
		{"exit 137", ExitStatus{Code: 137}, CrashKilled},
		{"segfault signal", ExitStatus{Code: -1, Signal: "segmentation fault"}, CrashSegfault},
		{"exit 139", ExitStatus{Code: 139}, CrashSegfault},
		{"abort", ExitStatus{Code: 134}, CrashAbort},
		{"missing binary", ExitStatus{Code: 127}, CrashMissingBinary},
		{"not executable", ExitStatus{Code: 126}, CrashNotExecutable},
		{"bundle", ExitStatus{Code: 255, StderrTail: []string{"Traceback", "ModuleNotFoundError: No module named 'torch'"}}, CrashIncompleteBundle},
		{"other signal", ExitStatus{Code: -1, Signal: "hangup"}, CrashExit},
		{"generic", ExitStatus{Code: 2}, CrashExit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.status)
			assert.Equal(t, tt.want, e.Kind)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestClassify_BundleMessageNamesFailingLine(t *testing.T) {
	e := Classify(ExitStatus{Code: 1, StderrTail: []string{"ImportError: libsndfile.so: cannot open shared object file"}})
	assert.Equal(t, CrashIncompleteBundle, e.Kind)
	assert.Contains(t, e.Message, "libsndfile")
	assert.Contains(t, e.Message, "exit code 1")
}

func TestClassify_GenericIncludesLastStderrLine(t *testing.T) {
	e := Classify(ExitStatus{Code: 3, StderrTail: []string{"warming up", "invalid sample rate"}})
	assert.True(t, strings.HasSuffix(e.Message, "invalid sample rate"))
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("wait failed")
	e := Classify(ExitStatus{Code: 2, Err: cause})
	assert.ErrorIs(t, e, cause)

	var target *EngineError
	assert.True(t, errors.As(error(e), &target))
}
