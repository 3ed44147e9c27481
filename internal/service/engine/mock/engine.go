// Package mock provides an in-memory engine for tests and for running the
// service without the recognition engine installed. It can be scripted message
// by message, or run in auto mode where it simulates a two-person conversation
// paced by the audio it receives.
package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"live-transcript-service/internal/service/engine"
)

// SimulatedUtterance is one scripted line of the simulated conversation.
type SimulatedUtterance struct {
	Speaker    string   // Raw diarization label
	Partials   []string // Progressive non-final transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances is the conversation auto mode cycles through.
var DefaultUtterances = []SimulatedUtterance{
	{
		Speaker:    "SPEAKER_00",
		Partials:   []string{"Let's get", "Let's get started with"},
		Final:      "Let's get started with the weekly review",
		Confidence: 0.94,
	},
	{
		Speaker:    "SPEAKER_01",
		Partials:   []string{"Sure", "Sure I can"},
		Final:      "Sure I can walk through the release notes",
		Confidence: 0.91,
	},
	{
		Speaker:    "SPEAKER_00",
		Partials:   []string{"Did the"},
		Final:      "Did the migration finish over the weekend",
		Confidence: 0.89,
	},
	{
		Speaker:    "SPEAKER_01",
		Partials:   []string{"Yes it", "Yes it finished"},
		Final:      "Yes it finished on Saturday without errors",
		Confidence: 0.97,
	},
}

// ErrLaunch is a convenience error for Options.LaunchErr.
var ErrLaunch = errors.New("mock: launch failed")

// Options controls how launched engines behave.
type Options struct {
	// ExitOnClose makes the engine emit complete and exit 0 once input is closed.
	ExitOnClose bool
	// Auto simulates recognition from received audio.
	Auto bool
	// ReadyDelay is how long an auto engine takes to report ready.
	ReadyDelay time.Duration
	// UtteranceSeconds is how much audio one simulated utterance spans.
	UtteranceSeconds float64
	// LaunchErr, if set, is returned by Launch.
	LaunchErr error
}

// Launcher implements engine.Launcher with in-memory engines.
type Launcher struct {
	opts Options

	mu      sync.Mutex
	engines []*Engine
}

// NewLauncher creates a mock launcher.
func NewLauncher(opts Options) *Launcher {
	if opts.UtteranceSeconds <= 0 {
		opts.UtteranceSeconds = 3
	}
	return &Launcher{opts: opts}
}

// Launch creates a new mock engine.
func (l *Launcher) Launch(ctx context.Context, args engine.LaunchArgs) (engine.Process, error) {
	if l.opts.LaunchErr != nil {
		return nil, l.opts.LaunchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	e := newEngine(args, l.opts, 4000+len(l.engines))
	l.engines = append(l.engines, e)
	l.mu.Unlock()

	if l.opts.Auto {
		ready := engine.Ready{Model: args.ModelSize, Message: "mock engine ready"}
		if l.opts.ReadyDelay <= 0 {
			e.enqueue(ready)
		} else {
			go func() {
				select {
				case <-time.After(l.opts.ReadyDelay):
					e.enqueue(ready)
				case <-e.done:
				}
			}()
		}
	}
	return e, nil
}

// Count returns how many engines have been launched.
func (l *Launcher) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.engines)
}

// Last returns the most recently launched engine, or nil.
func (l *Launcher) Last() *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.engines) == 0 {
		return nil
	}
	return l.engines[len(l.engines)-1]
}

// Engine is an in-memory engine.Process.
type Engine struct {
	args engine.LaunchArgs
	opts Options
	pid  int

	outR  *io.PipeReader
	outW  *io.PipeWriter
	queue chan engine.Message
	done  chan struct{}
	once  sync.Once

	mu          sync.Mutex
	received    []byte
	writes      int
	inputClosed bool
	status      engine.ExitStatus
	utterance   int
	emitted     int
}

func newEngine(args engine.LaunchArgs, opts Options, pid int) *Engine {
	r, w := io.Pipe()
	e := &Engine{
		args:  args,
		opts:  opts,
		pid:   pid,
		outR:  r,
		outW:  w,
		queue: make(chan engine.Message, 256),
		done:  make(chan struct{}),
	}
	go e.pump()
	return e
}

// pump writes queued messages in order. A nil message ends the process.
func (e *Engine) pump() {
	for {
		select {
		case msg := <-e.queue:
			if msg == nil {
				e.Exit(0)
				return
			}
			if err := e.Emit(msg); err != nil {
				return
			}
		case <-e.done:
			return
		}
	}
}

func (e *Engine) enqueue(msg engine.Message) {
	select {
	case e.queue <- msg:
	case <-e.done:
	}
}

// Args returns the launch arguments.
func (e *Engine) Args() engine.LaunchArgs { return e.args }

// Write records audio. In auto mode it may schedule simulated results.
func (e *Engine) Write(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inputClosed || e.exited() {
		return io.ErrClosedPipe
	}
	e.received = append(e.received, p...)
	e.writes++
	if e.opts.Auto {
		e.simulateLocked()
	}
	return nil
}

// CloseInput marks end of input.
func (e *Engine) CloseInput() error {
	e.mu.Lock()
	if e.inputClosed {
		e.mu.Unlock()
		return nil
	}
	e.inputClosed = true
	total := e.emitted
	e.mu.Unlock()

	if e.opts.ExitOnClose || e.opts.Auto {
		go func() {
			e.enqueue(engine.Complete{TotalSegments: total})
			e.enqueue(nil)
		}()
	}
	return nil
}

// Output is the engine's message stream.
func (e *Engine) Output() io.Reader { return e.outR }

// Done is closed when the engine has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Status reports the exit status.
func (e *Engine) Status() engine.ExitStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Kill terminates the engine as if by SIGKILL.
func (e *Engine) Kill() error {
	e.ExitWith(engine.ExitStatus{Code: -1, Signal: "killed"})
	return nil
}

// PID returns a fake process id.
func (e *Engine) PID() int { return e.pid }

// Emit writes one message to the output stream. It blocks until the reader
// consumes it.
func (e *Engine) Emit(msg engine.Message) error {
	line, err := engine.Encode(msg)
	if err != nil {
		return err
	}
	return e.EmitRaw(line)
}

// EmitRaw writes raw bytes to the output stream.
func (e *Engine) EmitRaw(line []byte) error {
	if e.exited() {
		return io.ErrClosedPipe
	}
	_, err := e.outW.Write(line)
	return err
}

// Exit ends the process with the given exit code.
func (e *Engine) Exit(code int, stderr ...string) {
	e.ExitWith(engine.ExitStatus{Code: code, StderrTail: stderr})
}

// ExitWith ends the process with st. Only the first call has an effect.
func (e *Engine) ExitWith(st engine.ExitStatus) {
	e.once.Do(func() {
		if st.Code != 0 && st.Err == nil {
			st.Err = fmt.Errorf("exit status %d", st.Code)
		}
		e.mu.Lock()
		e.status = st
		e.mu.Unlock()
		_ = e.outW.Close()
		close(e.done)
	})
}

// Received returns a copy of all audio written so far.
func (e *Engine) Received() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte{}, e.received...)
}

// Writes returns how many Write calls succeeded.
func (e *Engine) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

// InputClosed reports whether CloseInput was called.
func (e *Engine) InputClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputClosed
}

func (e *Engine) exited() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// simulateLocked emits one utterance for every UtteranceSeconds of audio.
func (e *Engine) simulateLocked() {
	bps := e.args.SampleRate * e.args.Channels * e.args.BitDepth / 8
	if bps <= 0 {
		return
	}
	span := e.opts.UtteranceSeconds
	seconds := float64(len(e.received)) / float64(bps)
	for float64(e.utterance+1)*span <= seconds {
		utt := DefaultUtterances[e.utterance%len(DefaultUtterances)]
		start := e.args.TimeOffset + float64(e.utterance)*span
		end := start + span
		e.utterance++
		e.emitted++

		for i, p := range utt.Partials {
			partialEnd := start + span*float64(i+1)/float64(len(utt.Partials)+1)
			e.enqueueAsync(engine.Segment{Text: p, Start: start, End: partialEnd, Confidence: utt.Confidence / 2})
		}
		conf := 0.85
		e.enqueueAsync(engine.SpeakerSegment{Speaker: utt.Speaker, Start: start, End: end, Confidence: conf})
		e.enqueueAsync(engine.Segment{
			Text:              utt.Final,
			Start:             start,
			End:               end,
			Confidence:        utt.Confidence,
			IsFinal:           true,
			Speaker:           utt.Speaker,
			SpeakerConfidence: &conf,
		})
	}
}

// enqueueAsync queues without blocking the writer; a full queue drops the message.
func (e *Engine) enqueueAsync(msg engine.Message) {
	select {
	case e.queue <- msg:
	default:
	}
}
