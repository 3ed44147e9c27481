package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ExecConfig configures the subprocess launcher.
type ExecConfig struct {
	// Binary is the engine executable (resolved via PATH).
	Binary string
	// BaseArgs precede the launch arguments, e.g. a script path.
	BaseArgs []string
	// Dir is the working directory.
	Dir string
	// Env is additional KEY=value pairs merged with the parent environment.
	Env []string
	// StderrLines is how many trailing stderr lines are kept for diagnostics.
	StderrLines int
}

// ExecLauncher runs the engine as a child process.
type ExecLauncher struct {
	cfg ExecConfig
}

// NewExecLauncher creates a launcher for cfg.
func NewExecLauncher(cfg ExecConfig) *ExecLauncher {
	if cfg.StderrLines <= 0 {
		cfg.StderrLines = 20
	}
	return &ExecLauncher{cfg: cfg}
}

// Launch starts the engine. The process is not bound to ctx; its lifetime is
// managed through CloseInput and Kill.
func (l *ExecLauncher) Launch(ctx context.Context, args LaunchArgs) (Process, error) {
	if l.cfg.Binary == "" {
		return nil, errors.New("engine: binary is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	argv := append(append([]string{}, l.cfg.BaseArgs...), args.Argv()...)
	cmd := exec.Command(l.cfg.Binary, argv...) //nolint:gosec // engine path comes from service configuration
	cmd.Dir = l.cfg.Dir
	cmd.Env = mergeEnv(l.cfg.Env)
	// Own process group so Kill reaches helper processes the engine spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdin pipe: %w", err)
	}
	outR, outW := io.Pipe()
	cmd.Stdout = outW

	logger := log.With().Str("component", "engine").Str("binary", l.cfg.Binary).Logger()
	stderr := newTailWriter(l.cfg.StderrLines, logger)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: start %s: %w", l.cfg.Binary, err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		out:    outR,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	logger.Info().Int("pid", cmd.Process.Pid).Strs("args", argv).Msg("Engine process started")

	go func() {
		// Wait returns only after the stdout copier has handed every byte to
		// outW, so the reader sees all output before EOF.
		werr := cmd.Wait()
		p.mu.Lock()
		p.status = exitStatusFrom(cmd.ProcessState, werr, stderr.Lines())
		p.mu.Unlock()
		_ = outW.Close()
		close(p.done)
		logger.Info().
			Int("pid", cmd.Process.Pid).
			Int("exitCode", p.status.Code).
			Str("signal", p.status.Signal).
			Msg("Engine process exited")
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    io.Reader
	stderr *tailWriter
	done   chan struct{}

	mu     sync.Mutex
	status ExitStatus
}

func (p *execProcess) Write(b []byte) error {
	_, err := p.stdin.Write(b)
	return err
}

func (p *execProcess) CloseInput() error { return p.stdin.Close() }

func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Status() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return p.cmd.Process.Kill()
	}
	return nil
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func exitStatusFrom(ps *os.ProcessState, err error, tail []string) ExitStatus {
	st := ExitStatus{Code: -1, Err: err, StderrTail: tail}
	if ps == nil {
		return st
	}
	st.Code = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Code = -1
		st.Signal = ws.Signal().String()
	}
	return st
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil
	}
	return append(os.Environ(), extra...)
}

// tailWriter keeps the last n lines written to it and logs each at debug.
type tailWriter struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial bytes.Buffer
	logger  zerolog.Logger
}

func newTailWriter(n int, logger zerolog.Logger) *tailWriter {
	return &tailWriter{n: n, logger: logger}
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial.Write(b)
	for {
		data := w.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		w.partial.Next(i + 1)
		w.push(line)
	}
	return len(b), nil
}

func (w *tailWriter) push(line string) {
	if line == "" {
		return
	}
	w.logger.Debug().Str("stderr", line).Msg("Engine stderr")
	w.lines = append(w.lines, line)
	if len(w.lines) > w.n {
		w.lines = w.lines[len(w.lines)-w.n:]
	}
}

// Lines returns the retained lines, including an unterminated final line.
func (w *tailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]string{}, w.lines...)
	if w.partial.Len() > 0 {
		out = append(out, w.partial.String())
		if len(out) > w.n {
			out = out[len(out)-w.n:]
		}
	}
	return out
}
