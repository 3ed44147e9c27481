package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/audio"
	"live-transcript-service/internal/service/diarization"
	"live-transcript-service/internal/service/engine"
	"live-transcript-service/internal/service/segment"
	"live-transcript-service/internal/service/speaker"
)

// Controller owns one recording's engine process and audio flow at a time.
// Chunk arrival, engine messages and commands are serialised by a single
// mutex; listener callbacks run after it is released, in dispatch order.
// Engine stdin is written by the session's engineWriter, never under the
// mutex.
type Controller struct {
	launcher engine.Launcher
	registry speaker.Registry
	monitor  *diarization.Monitor
	metrics  *metrics.Metrics
	ids      *segment.Generator
	opts     Options

	mu   sync.Mutex
	sess *session
	live atomic.Pointer[engineWriter] // current engine, for ForceReset

	progressL     listeners[Progress]
	segmentL      listeners[models.TranscriptSegment]
	diarSegmentL  listeners[models.DiarizationSegment]
	speakerL      listeners[models.SpeakerChange]
	availabilityL listeners[Availability]
}

// session is the state of one recording. It lives from Start until Stop or
// ForceReset; a session in StateError stays until the next Start.
type session struct {
	id     string
	ref    string
	cfg    Config
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	state     State
	phase     Phase
	startedAt time.Time
	err       error

	format       audio.Format
	formatKnown  bool
	formatWarned bool
	bps          int

	buffer         [][]byte
	bufferedBytes  int
	totalBuffered  int64
	droppedBytes   int64
	overflowWarned bool
	backlogWarned  bool
	diag           AudioDiagnostics

	proc       engine.Process
	writer     *engineWriter
	readerDone chan struct{}

	startCh      chan StartResult
	startPending bool
	noAudio      *time.Timer
	readyTimer   *time.Timer

	tracker      *segment.Tracker
	availability Availability
	lastSpeaker  string
}

// New creates a controller. registry may be nil, in which case raw labels are
// used as speaker ids.
func New(launcher engine.Launcher, registry speaker.Registry, opts Options, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Controller{
		launcher: launcher,
		registry: registry,
		monitor:  diarization.NewMonitor(),
		metrics:  m,
		ids:      segment.New(),
		opts:     opts.withDefaults(),
	}
}

// Start begins a session. The engine is launched when the first audio chunk
// arrives. The returned channel receives exactly one StartResult.
func (c *Controller) Start(ctx context.Context, recordingRef string, cfg Config) (<-chan StartResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var b batch
	c.mu.Lock()
	if prev := c.sess; prev != nil {
		if prev.state != StateError {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: state %s", ErrAlreadyRunning, prev.state)
		}
		c.teardownLocked(prev, &b)
	}

	id := uuid.NewString()
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:           id,
		ref:          recordingRef,
		cfg:          cfg,
		logger:       logging.WithSession(id, recordingRef),
		ctx:          sctx,
		cancel:       cancel,
		state:        StateStarting,
		phase:        PhaseAwaitingAudio,
		startedAt:    time.Now(),
		startCh:      make(chan StartResult, 1),
		startPending: true,
		tracker:      segment.NewTracker(c.ids, id),
		availability: Availability{SessionID: id},
	}
	c.sess = s
	c.monitor.Reset()
	s.noAudio = time.AfterFunc(c.opts.NoAudioTimeout, func() { c.onNoAudioTimeout(s) })
	c.metrics.RecordSessionStart()

	s.logger.Info().
		Str("model", cfg.ModelSize).
		Str("language", cfg.Language).
		Bool("diarization", cfg.Diarization).
		Msg("Session starting, waiting for first audio chunk")
	c.progressLocked(s, &b, Progress{Kind: ProgressStarting, Message: "Waiting for audio"})
	c.mu.Unlock()
	b.run()

	return s.startCh, nil
}

// HandleAudioChunk accepts one capture chunk. It never blocks on the engine
// becoming ready.
func (c *Controller) HandleAudioChunk(data []byte, f audio.Format) error {
	if len(data) == 0 {
		return nil
	}

	var b batch
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		b.run()
	}()

	s := c.sess
	if s == nil || !s.state.Recording() {
		return ErrNotRecording
	}

	s.diag.ChunksReceived++
	s.diag.BytesReceived += int64(len(data))
	c.metrics.RecordAudioReceived(len(data))

	switch s.state {
	case StatePaused:
		s.diag.ChunksDiscarded++
		c.metrics.RecordAudioDiscarded()
		return nil

	case StateStarting:
		chunk := append([]byte(nil), data...)
		if s.phase == PhaseAwaitingAudio {
			return c.launchLocked(s, chunk, f, &b)
		}
		if f != s.format && !s.formatWarned {
			s.formatWarned = true
			s.logger.Warn().
				Str("detected", s.format.String()).
				Str("chunk", f.String()).
				Msg("Capture format changed after engine launch")
		}
		c.bufferLocked(s, chunk, &b)
		return nil

	default: // StateActive
		err := s.writer.push(append([]byte(nil), data...))
		if errors.Is(err, errBacklogFull) {
			s.diag.ChunksBacklogDropped++
			c.metrics.RecordAudioDropped(1)
			if !s.backlogWarned {
				s.backlogWarned = true
				s.logger.Warn().
					Dur("maxBuffer", c.opts.MaxBuffer).
					Msg("Engine is not reading audio, dropping new chunks")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("session: write to engine: %w", err)
		}
		return nil
	}
}

// launchLocked handles the first chunk: it fixes the capture format, buffers
// the chunk and launches the engine with the true sample rate.
func (c *Controller) launchLocked(s *session, chunk []byte, f audio.Format, b *batch) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.noAudio.Stop()
	s.format = f
	s.formatKnown = true
	s.bps = f.BytesPerSecond()
	s.diag.Format = f
	s.diag.FormatDetected = true
	if f.SampleRate != s.cfg.SampleRate {
		s.logger.Info().
			Int("configured", s.cfg.SampleRate).
			Int("detected", f.SampleRate).
			Msg("Capture sample rate differs from configuration, using detected rate")
	}
	c.bufferLocked(s, chunk, b)

	args := engine.LaunchArgs{
		ModelSize:            s.cfg.ModelSize,
		Language:             s.cfg.Language,
		SampleRate:           f.SampleRate,
		Channels:             f.Channels,
		BitDepth:             f.BitDepth,
		ChunkDuration:        s.cfg.ChunkDuration,
		ConfidenceThreshold:  s.cfg.ConfidenceThreshold,
		Diarization:          s.cfg.Diarization,
		DiarizationThreshold: s.cfg.DiarizationThreshold,
		MaxSpeakers:          s.cfg.MaxSpeakers,
		TimeOffset:           s.cfg.TimeOffset,
	}
	proc, err := c.launcher.Launch(s.ctx, args)
	if err != nil {
		ee := &engine.EngineError{Kind: engine.CrashLaunch, Message: fmt.Sprintf("engine failed to start: %v", err), Cause: err}
		c.failLocked(s, ee, b)
		return ee
	}
	c.metrics.RecordEngineLaunch()

	elog := logging.WithEngine(s.id, proc.PID(), s.cfg.ModelSize)
	s.proc = proc
	s.writer = newEngineWriter(proc, elog, c.metrics, c.bufferLimit(s))
	c.live.Store(s.writer)
	s.phase = PhaseAwaitingReady
	s.readerDone = make(chan struct{})
	s.readyTimer = time.AfterFunc(c.opts.ReadyTimeout, func() { c.onReadyTimeout(s) })
	go c.readLoop(s, proc)

	elog.Info().
		Str("format", f.String()).
		Msg("Engine launched, buffering audio until ready")
	c.progressLocked(s, b, Progress{Kind: ProgressLaunching, Message: "Loading speech engine"})
	return nil
}

// bufferLocked appends a chunk and enforces the buffer bound, dropping the
// oldest chunks first.
func (c *Controller) bufferLocked(s *session, chunk []byte, b *batch) {
	s.buffer = append(s.buffer, chunk)
	s.bufferedBytes += len(chunk)
	s.totalBuffered += int64(len(chunk))

	limit := c.bufferLimit(s)
	dropped := 0
	for s.bufferedBytes > limit && len(s.buffer) > 1 {
		old := s.buffer[0]
		s.buffer[0] = nil
		s.buffer = s.buffer[1:]
		s.bufferedBytes -= len(old)
		s.droppedBytes += int64(len(old))
		s.diag.ChunksDropped++
		dropped++
	}
	if dropped > 0 {
		c.metrics.RecordAudioDropped(dropped)
		if !s.overflowWarned {
			s.overflowWarned = true
			s.logger.Warn().
				Dur("maxBuffer", c.opts.MaxBuffer).
				Msg("Startup buffer full, dropping oldest audio until the engine is ready")
			c.progressLocked(s, b, Progress{Kind: ProgressOverflow, Message: "Engine is slow to start, some early audio was dropped"})
		}
	}
	c.metrics.SetBuffered(s.format.Seconds(s.bufferedBytes))
}

// bufferLimit is MaxBuffer in bytes of the detected format.
func (c *Controller) bufferLimit(s *session) int {
	return int(c.opts.MaxBuffer.Seconds() * float64(s.bps))
}

// activateLocked hands the buffer to the engine writer in arrival order and
// only then enters StateActive. Live chunks queue behind it.
func (c *Controller) activateLocked(s *session, optimistic bool, b *batch) {
	if s.readyTimer != nil {
		s.readyTimer.Stop()
	}
	s.phase = PhaseDraining

	drained := len(s.buffer)
	s.writer.pushAll(s.buffer)
	s.buffer = nil
	s.bufferedBytes = 0
	c.metrics.SetBuffered(0)

	s.state = StateActive
	s.phase = PhaseNone
	latency := time.Since(s.startedAt)
	c.metrics.RecordStartup(latency.Seconds(), optimistic)

	msg := "Transcribing"
	if optimistic {
		msg = "Engine did not confirm readiness, continuing anyway"
		s.logger.Warn().Dur("timeout", c.opts.ReadyTimeout).Msg("Ready timeout elapsed, activating session optimistically")
	}
	s.logger.Info().
		Int("drainedChunks", drained).
		Float64("timestampOffset", s.offset()).
		Dur("startupLatency", latency).
		Msg("Session active")

	c.progressLocked(s, b, Progress{Kind: ProgressActive, Message: msg, Optimistic: optimistic})
	c.resolveStartLocked(s, StartResult{Optimistic: optimistic})
}

func (c *Controller) onNoAudioTimeout(s *session) {
	var b batch
	c.mu.Lock()
	if c.sess == s && s.state == StateStarting && s.phase == PhaseAwaitingAudio {
		s.logger.Error().Dur("timeout", c.opts.NoAudioTimeout).Msg("No audio received, start failed")
		c.failLocked(s, ErrNoAudio, &b)
	}
	c.mu.Unlock()
	b.run()
}

func (c *Controller) onReadyTimeout(s *session) {
	var b batch
	c.mu.Lock()
	if c.sess == s && s.state == StateStarting && s.phase == PhaseAwaitingReady {
		c.activateLocked(s, true, &b)
	}
	c.mu.Unlock()
	b.run()
}

// Pause stops forwarding audio. Chunks received while paused are discarded.
func (c *Controller) Pause() error {
	return c.transition(StateActive, StatePaused, ProgressPaused)
}

// Resume continues forwarding audio.
func (c *Controller) Resume() error {
	return c.transition(StatePaused, StateActive, ProgressResumed)
}

func (c *Controller) transition(from, to State, kind ProgressKind) error {
	var b batch
	c.mu.Lock()
	s := c.sess
	if s == nil || s.state != from {
		state := StateIdle
		if s != nil {
			state = s.state
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %s to %s from %s", ErrInvalidTransition, from, to, state)
	}
	s.state = to
	s.logger.Info().Str("state", to.String()).Msg("Session state changed")
	c.progressLocked(s, &b, Progress{Kind: kind})
	c.mu.Unlock()
	b.run()
	return nil
}

// StopResult is returned by Stop.
type StopResult struct {
	SessionID    string `json:"sessionId"`
	SegmentCount int    `json:"segmentCount"`
}

// Stop ends input, waits up to the grace period for the engine to finish
// (trailing segments are still dispatched), then kills it. The controller is
// Idle afterwards whatever happened.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	var b batch
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return StopResult{}, ErrNotRunning
	}
	if s.state == StateStopping {
		c.mu.Unlock()
		return StopResult{}, fmt.Errorf("%w: already stopping", ErrInvalidTransition)
	}
	if s.state == StateError {
		res := StopResult{SessionID: s.id, SegmentCount: s.tracker.Finals()}
		c.teardownLocked(s, &b)
		c.mu.Unlock()
		b.run()
		return res, nil
	}

	s.state = StateStopping
	s.phase = PhaseNone
	c.stopTimers(s)
	c.resolveStartLocked(s, StartResult{Err: ErrStopped})
	proc := s.proc
	if s.writer != nil {
		s.writer.closeInput()
	}
	s.logger.Info().Msg("Session stopping")
	c.progressLocked(s, &b, Progress{Kind: ProgressStopping})
	c.mu.Unlock()
	b.run()

	if proc != nil {
		grace := time.NewTimer(c.opts.StopGrace)
		select {
		case <-s.readerDone:
		case <-grace.C:
			s.logger.Warn().Dur("grace", c.opts.StopGrace).Msg("Engine did not exit in time, killing")
			_ = proc.Kill()
			<-s.readerDone
		case <-ctx.Done():
			s.logger.Warn().Err(ctx.Err()).Msg("Stop cancelled, killing engine")
			_ = proc.Kill()
			<-s.readerDone
		}
		grace.Stop()
	}

	b = nil
	c.mu.Lock()
	res := StopResult{SessionID: s.id, SegmentCount: s.tracker.Finals()}
	if c.sess == s {
		c.teardownLocked(s, &b)
	}
	c.mu.Unlock()
	b.run()

	s.logger.Info().Int("segments", res.SegmentCount).Msg("Session stopped")
	return res, nil
}

// ForceReset kills any engine and returns to Idle without waiting. The
// engine is killed before the controller lock is taken.
func (c *Controller) ForceReset() {
	if w := c.live.Load(); w != nil {
		w.abort()
	}

	var b batch
	c.mu.Lock()
	if s := c.sess; s != nil {
		s.logger.Warn().Str("state", s.state.String()).Msg("Force reset")
		c.resolveStartLocked(s, StartResult{Err: ErrReset})
		c.teardownLocked(s, &b)
	}
	c.mu.Unlock()
	b.run()
}

// teardownLocked releases everything the session owns and returns the
// controller to Idle.
func (c *Controller) teardownLocked(s *session, b *batch) {
	c.stopTimers(s)
	if s.writer != nil {
		s.writer.stop()
		c.live.CompareAndSwap(s.writer, nil)
	}
	if s.proc != nil {
		if err := s.proc.Kill(); err != nil {
			s.logger.Warn().Err(err).Msg("Killing engine failed")
		}
	}
	s.cancel()
	s.tracker.Close()
	s.buffer = nil
	s.bufferedBytes = 0
	c.resolveStartLocked(s, StartResult{Err: ErrReset})
	c.metrics.RecordSessionEnd(time.Since(s.startedAt).Seconds())
	if c.sess == s {
		c.sess = nil
	}
	id := s.id
	b.add(func() {
		c.progressL.emit(Progress{SessionID: id, Kind: ProgressIdle, State: StateIdle, Time: time.Now()})
	})
}

// failLocked moves the session to StateError. The engine, if any, is killed;
// the controller never restarts it.
func (c *Controller) failLocked(s *session, err error, b *batch) {
	if s.state == StateError {
		return
	}
	s.state = StateError
	s.phase = PhaseNone
	s.err = err
	c.stopTimers(s)
	s.buffer = nil
	s.bufferedBytes = 0
	c.metrics.SetBuffered(0)
	if dropped := s.tracker.Drop(); dropped != "" {
		s.logger.Debug().Str("segmentId", dropped).Msg("Open segment dropped")
	}

	reason := "error"
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		reason = string(ee.Kind)
	} else if errors.Is(err, ErrNoAudio) {
		reason = "no_audio"
	}
	c.metrics.RecordSessionFailed(reason)
	s.logger.Error().Err(err).Str("reason", reason).Msg("Session failed")

	if s.writer != nil {
		s.writer.stop()
	}
	if s.proc != nil {
		_ = s.proc.Kill()
	}
	c.resolveStartLocked(s, StartResult{Err: err})
	c.progressLocked(s, b, Progress{Kind: ProgressError, Message: err.Error()})
}

func (c *Controller) stopTimers(s *session) {
	if s.noAudio != nil {
		s.noAudio.Stop()
	}
	if s.readyTimer != nil {
		s.readyTimer.Stop()
	}
}

func (c *Controller) resolveStartLocked(s *session, r StartResult) {
	if !s.startPending {
		return
	}
	s.startPending = false
	s.startCh <- r
	close(s.startCh)
}

func (c *Controller) progressLocked(s *session, b *batch, p Progress) {
	p.SessionID = s.id
	p.State = s.state
	p.Time = time.Now()
	b.add(func() { c.progressL.emit(p) })
}

// readLoop decodes engine output in order until EOF, then reports the exit.
func (c *Controller) readLoop(s *session, proc engine.Process) {
	defer close(s.readerDone)

	r := engine.NewReader(proc.Output())
	d := &dispatcher{c: c, s: s}
	for {
		line, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error().Err(err).Msg("Reading engine output failed")
				_, _ = io.Copy(io.Discard, proc.Output())
			}
			break
		}
		msg, err := engine.Decode(line)
		if err != nil {
			c.metrics.RecordDecodeError()
			s.logger.Warn().Err(err).Str("line", truncate(string(line), 200)).Msg("Skipping engine output line")
			continue
		}
		c.metrics.RecordEngineMessage(string(msg.Type()))
		msg.Accept(d)
	}

	<-proc.Done()
	c.onExit(s, proc.Status())
}

func (c *Controller) onExit(s *session, st engine.ExitStatus) {
	var b batch
	c.mu.Lock()
	reset := s.writer != nil && s.writer.aborted.Load()
	if c.sess == s && !reset && (s.state == StateStarting || s.state == StateActive || s.state == StatePaused) {
		ee := engine.Classify(st)
		c.metrics.RecordEngineCrash(string(ee.Kind))
		s.logger.Error().
			Int("exitCode", st.Code).
			Str("signal", st.Signal).
			Strs("stderr", st.StderrTail).
			Str("kind", string(ee.Kind)).
			Msg("Engine exited unexpectedly")
		c.failLocked(s, ee, &b)
	}
	c.mu.Unlock()
	b.run()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// offset is the shift from engine time to session time: the audio dropped
// from the front of the startup buffer never reached the engine.
func (s *session) offset() float64 {
	if s.bps <= 0 {
		return 0
	}
	return float64(s.droppedBytes) / float64(s.bps)
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil {
		return Snapshot{State: StateIdle}
	}
	snap := Snapshot{
		SessionID:       s.id,
		RecordingRef:    s.ref,
		State:           s.state,
		Phase:           s.phase,
		StartedAt:       s.startedAt,
		Config:          s.cfg,
		Segments:        s.tracker.Finals(),
		TimestampOffset: s.offset(),
		Diarization:     s.availability,
	}
	if s.proc != nil {
		snap.EnginePID = s.proc.PID()
	}
	if s.err != nil {
		snap.Error = s.err.Error()
		var ee *engine.EngineError
		if errors.As(s.err, &ee) {
			snap.ErrorKind = string(ee.Kind)
		}
	}
	return snap
}

// Diagnostics returns the audio counters of the current session.
func (c *Controller) Diagnostics() AudioDiagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil {
		return AudioDiagnostics{}
	}
	d := s.diag
	d.ChunksBuffered = len(s.buffer)
	d.BufferedSeconds = s.format.Seconds(s.bufferedBytes)
	d.DroppedSeconds = s.offset()
	d.OverflowWarned = s.overflowWarned
	if s.writer != nil {
		d.ChunksForwarded, d.BytesForwarded, d.ChunksQueued = s.writer.stats()
	}
	d.TotalBufferedSeconds = float64(s.totalBuffered) / float64(max(s.bps, 1))
	return d
}

// DiarizationHealth returns the health monitor state.
func (c *Controller) DiarizationHealth() diarization.HealthState {
	return c.monitor.State()
}

// SubscribeDiarizationHealth streams health notifications.
func (c *Controller) SubscribeDiarizationHealth(buffer int) (<-chan diarization.Notification, func()) {
	return c.monitor.Subscribe(buffer)
}

// OnProgress registers a progress listener.
func (c *Controller) OnProgress(fn func(Progress)) (unsubscribe func()) {
	return c.progressL.add(fn)
}

// OnSegment registers a transcript segment listener. Every segment the engine
// produces is delivered, whatever the state of diarization.
func (c *Controller) OnSegment(fn func(models.TranscriptSegment)) (unsubscribe func()) {
	return c.segmentL.add(fn)
}

// OnDiarizationSegment registers a speaker interval listener.
func (c *Controller) OnDiarizationSegment(fn func(models.DiarizationSegment)) (unsubscribe func()) {
	return c.diarSegmentL.add(fn)
}

// OnSpeakerChange registers a speaker change listener.
func (c *Controller) OnSpeakerChange(fn func(models.SpeakerChange)) (unsubscribe func()) {
	return c.speakerL.add(fn)
}

// OnDiarizationAvailability registers an availability listener.
func (c *Controller) OnDiarizationAvailability(fn func(Availability)) (unsubscribe func()) {
	return c.availabilityL.add(fn)
}
