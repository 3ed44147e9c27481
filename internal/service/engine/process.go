package engine

import (
	"context"
	"io"
)

// Process is a running engine. Audio goes in through Write, messages come out
// of Output one JSON object per line.
type Process interface {
	// Write sends raw audio bytes to the engine's standard input.
	Write(p []byte) error
	// CloseInput signals end of input.
	CloseInput() error
	// Output is the engine's standard output. It reaches EOF after exit.
	Output() io.Reader
	// Done is closed once the process has exited and Status is final.
	Done() <-chan struct{}
	// Status reports how the process exited. Valid after Done is closed.
	Status() ExitStatus
	// Kill terminates the process immediately.
	Kill() error
	// PID returns the operating system process id, or 0.
	PID() int
}

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context, args LaunchArgs) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, args LaunchArgs) (Process, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, args LaunchArgs) (Process, error) {
	return f(ctx, args)
}

// ExitStatus describes a finished process.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was terminated by a signal.
	Code int
	// Signal names the terminating signal, if any.
	Signal string
	// StderrTail holds the last lines the engine wrote to standard error.
	StderrTail []string
	// Err is the raw wait error, if any.
	Err error
}
