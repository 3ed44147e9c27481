package engine

import (
	"fmt"
	"strings"
)

// CrashKind classifies an unexpected engine exit.
type CrashKind string

const (
	CrashKilled           CrashKind = "killed"
	CrashSegfault         CrashKind = "segfault"
	CrashAbort            CrashKind = "abort"
	CrashMissingBinary    CrashKind = "missing_binary"
	CrashNotExecutable    CrashKind = "not_executable"
	CrashIncompleteBundle CrashKind = "incomplete_bundle"
	CrashExit             CrashKind = "exit"
	CrashLaunch           CrashKind = "launch_failed"
	CrashReported         CrashKind = "engine_error"
)

// EngineError is a fatal engine failure surfaced through the session's Error state.
type EngineError struct {
	Kind    CrashKind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Markers written to stderr by an engine bundle that is missing modules or
// shared libraries.
var bundleMarkers = []string{
	"ModuleNotFoundError",
	"ImportError",
	"No module named",
	"cannot open shared object file",
	"Library not loaded",
	"Failed to execute script",
	"[PYI-",
}

// Classify turns an exit status into an EngineError with an actionable message.
func Classify(st ExitStatus) *EngineError {
	e := &EngineError{Kind: CrashExit, Cause: st.Err}

	switch {
	case st.Signal == "killed" || st.Code == 137:
		e.Kind = CrashKilled
		e.Message = "engine was killed (SIGKILL), most likely by the system running out of memory; try a smaller model"
	case st.Signal == "segmentation fault" || st.Code == 139:
		e.Kind = CrashSegfault
		e.Message = "engine crashed with a segmentation fault; the model files may be corrupt or incompatible with this machine"
	case st.Signal == "aborted" || st.Code == 134:
		e.Kind = CrashAbort
		e.Message = "engine aborted; check the engine log for the failing assertion"
	case st.Code == 127:
		e.Kind = CrashMissingBinary
		e.Message = "engine binary not found; reinstall the engine or fix the configured path"
	case st.Code == 126:
		e.Kind = CrashNotExecutable
		e.Message = "engine binary is not executable; check file permissions"
	case hasBundleMarker(st.StderrTail):
		e.Kind = CrashIncompleteBundle
		e.Message = fmt.Sprintf("engine bundle is incomplete (exit code %d): %s; reinstall the engine", st.Code, lastMarkerLine(st.StderrTail))
	case st.Signal != "":
		e.Message = fmt.Sprintf("engine terminated by signal: %s", st.Signal)
	default:
		e.Message = fmt.Sprintf("engine process exited unexpectedly (exit code %d)", st.Code)
	}

	if e.Kind == CrashExit && len(st.StderrTail) > 0 {
		e.Message += ": " + st.StderrTail[len(st.StderrTail)-1]
	}
	return e
}

func hasBundleMarker(lines []string) bool {
	return lastMarkerLine(lines) != ""
}

func lastMarkerLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		for _, m := range bundleMarkers {
			if strings.Contains(lines[i], m) {
				return strings.TrimSpace(lines[i])
			}
		}
	}
	return ""
}
