// Package app wires the session controller to its collaborators: the engine
// launcher, speaker registry, audio ingest, attribution and event publishing.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"live-transcript-service/internal/config"
	"live-transcript-service/internal/events"
	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/alignment"
	"live-transcript-service/internal/service/attribution"
	"live-transcript-service/internal/service/audio"
	"live-transcript-service/internal/service/diarization"
	"live-transcript-service/internal/service/engine"
	"live-transcript-service/internal/service/engine/google"
	"live-transcript-service/internal/service/engine/mock"
	"live-transcript-service/internal/service/session"
	"live-transcript-service/internal/service/speaker"
)

const (
	outboxSize     = 1024
	publishTimeout = 15 * time.Second
	captureChunk   = 100 * time.Millisecond
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Controller *session.Controller
	Audio      *audio.Handler
	Assembler  *attribution.Assembler
	Publisher  *events.Publisher
	Registry   *speaker.MemoryRegistry

	attribution attribution.Options
	metrics     *metrics.Metrics
	launcher    engine.Launcher

	mu           sync.Mutex
	recordingRef string
	capture      func() // detaches the file capture source

	outbox  chan func(context.Context)
	unsubs  []func()
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New constructs the application from cfg. The publisher is created from the
// Kafka settings; use NewWithPublisher to supply one.
func New(cfg *config.Configuration) (*Application, error) {
	pub := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicSegments: cfg.Kafka.TopicSegments,
		TopicAligned:  cfg.Kafka.TopicAligned,
		TopicHealth:   cfg.Kafka.TopicHealth,
		Principal:     cfg.Kafka.Principal,
	})
	return NewWithPublisher(cfg, pub)
}

// NewWithPublisher constructs the application around an existing publisher.
func NewWithPublisher(cfg *config.Configuration, pub *events.Publisher) (*Application, error) {
	launcher, err := newLauncher(context.Background(), cfg.Engine)
	if err != nil {
		return nil, err
	}
	policy, err := attribution.ParsePolicy(cfg.Attribution.Policy)
	if err != nil {
		return nil, err
	}

	m := metrics.DefaultMetrics
	registry := speaker.NewMemoryRegistry()
	ctrl := session.New(launcher, registry, session.Options{
		NoAudioTimeout: cfg.Session.NoAudioTimeout,
		ReadyTimeout:   cfg.Session.ReadyTimeout,
		StopGrace:      cfg.Session.StopGrace,
		MaxBuffer:      cfg.Session.MaxBuffer,
		ResolveTimeout: cfg.Session.ResolveTimeout,
	}, m)

	a := &Application{
		Logger:     logging.WithComponent("application"),
		Cfg:        cfg,
		Controller: ctrl,
		Publisher:  pub,
		Registry:   registry,
		attribution: attribution.Options{
			Align: alignment.Options{
				MaxSpeakerGap:   cfg.Attribution.MaxSpeakerGap,
				EnableSplitting: cfg.Attribution.EnableSplitting,
			},
			Coverage: alignment.CoverageOptions{
				MinCoverage:         cfg.Attribution.MinCoverage,
				MaxSpeakerGap:       cfg.Attribution.MaxSpeakerGap,
				RequireFullCoverage: cfg.Attribution.RequireFullCoverage,
			},
			Policy: policy,
		},
		metrics:  m,
		launcher: launcher,
		outbox:   make(chan func(context.Context), outboxSize),
		stopped:  make(chan struct{}),
	}
	a.Audio = audio.NewHandler(ctrl, audio.Limits{
		MaxChunkBytes:    cfg.Audio.MaxChunkBytes,
		MaxChunkDuration: cfg.Audio.MaxChunkDuration,
	}, m)
	a.Assembler = attribution.NewAssembler(a.attribution, attribution.SinkFunc(a.persistAligned), m)

	a.Logger.Info().
		Str("engineMode", cfg.Engine.Mode).
		Str("policy", string(policy)).
		Msg("Live transcript service application created")
	return a, nil
}

func newLauncher(ctx context.Context, cfg config.EngineConfig) (engine.Launcher, error) {
	switch cfg.Mode {
	case "mock":
		return mock.NewLauncher(mock.Options{Auto: true, ReadyDelay: cfg.ReadyDelay}), nil
	case "exec":
		return engine.NewExecLauncher(engine.ExecConfig{
			Binary:      cfg.Binary,
			BaseArgs:    cfg.Args,
			Dir:         cfg.WorkDir,
			StderrLines: cfg.StderrLines,
		}), nil
	case "google":
		l, err := google.NewLauncher(ctx, google.Config{
			LanguageCode: cfg.Google.LanguageCode,
			Model:        cfg.Google.Model,
			Punctuation:  cfg.Google.Punctuation,
		})
		if err != nil {
			return nil, fmt.Errorf("app: speech client: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("app: unknown engine mode %q", cfg.Mode)
	}
}

// AttributionOptions returns the options used for attribution requests.
func (a *Application) AttributionOptions() attribution.Options {
	return a.attribution
}

// SessionDefaults returns the session configuration used for fields a start
// request leaves empty.
func (a *Application) SessionDefaults() session.Config {
	d := session.DefaultConfig()
	if a.Cfg.Session.Model != "" {
		d.ModelSize = a.Cfg.Session.Model
	}
	if a.Cfg.Session.Language != "" {
		d.Language = a.Cfg.Session.Language
	}
	if a.Cfg.Session.MaxSpeakers > 0 {
		d.MaxSpeakers = a.Cfg.Session.MaxSpeakers
	}
	d.Diarization = a.Cfg.Session.Diarization
	return d
}

// Ready reports whether the controller can take work.
func (a *Application) Ready() bool {
	return a.Controller.Status().State != session.StateError
}

// Start subscribes to the controller and starts the publishing worker.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()

	a.unsubs = append(a.unsubs,
		a.Controller.OnProgress(a.onProgress),
		a.Controller.OnSegment(a.onSegment),
		a.Controller.OnDiarizationSegment(a.Assembler.AddDiarization),
		a.Controller.OnDiarizationAvailability(a.onAvailability),
	)

	health, cancel := a.Controller.SubscribeDiarizationHealth(64)
	a.unsubs = append(a.unsubs, cancel)

	a.wg.Add(2)
	go a.publishLoop()
	go a.healthLoop(health)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Live transcript service starting")
	return nil
}

// Shutdown stops any running session, flushes pending events and closes the
// publisher.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Live transcript service shutting down")

	if st := a.Controller.Status(); st.State != session.StateIdle {
		if _, err := a.Controller.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Stopping session during shutdown failed")
			a.Controller.ForceReset()
		}
	}
	a.detachCapture()
	for _, unsub := range a.unsubs {
		unsub()
	}
	close(a.stopped)
	a.wg.Wait()

	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Closing publisher failed")
	}
	if c, ok := a.launcher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing engine launcher failed")
		}
	}
}

func (a *Application) onProgress(p session.Progress) {
	switch p.Kind {
	case session.ProgressStarting:
		ref := a.Controller.Status().RecordingRef
		a.mu.Lock()
		a.recordingRef = ref
		a.mu.Unlock()
		a.Assembler.Begin(p.SessionID, ref)
		a.attachCapture(p.SessionID)
	case session.ProgressIdle:
		a.detachCapture()
		// Assemble now; a following Start resets the assembler.
		res := a.Assembler.Assemble()
		a.enqueue(func(ctx context.Context) {
			if err := a.Assembler.Deliver(ctx, res); err != nil {
				a.Logger.Warn().Err(err).Str("sessionId", p.SessionID).Msg("Aligned transcript not published")
			}
		})
	}
}

// attachCapture plays the configured WAV file into the session.
func (a *Application) attachCapture(sessionID string) {
	path := a.Cfg.Audio.CaptureFile
	if path == "" {
		return
	}
	logger := a.Logger.With().Str("sessionId", sessionID).Str("file", path).Logger()

	f, err := os.Open(path)
	if err != nil {
		logger.Error().Err(err).Msg("Opening capture file failed")
		return
	}
	hdr, err := audio.ReadWAVHeader(f)
	if err != nil {
		_ = f.Close()
		logger.Error().Err(err).Msg("Capture file is not PCM WAV")
		return
	}
	var r io.Reader = f
	if hdr.DataSize > 0 {
		r = io.LimitReader(f, int64(hdr.DataSize))
	}
	detach := a.Audio.Attach(audio.NewReaderSource(r, hdr.Format, captureChunk))

	a.detachCapture()
	a.mu.Lock()
	a.capture = func() {
		detach()
		_ = f.Close()
	}
	a.mu.Unlock()
	logger.Info().
		Int("sampleRate", hdr.Format.SampleRate).
		Int("channels", hdr.Format.Channels).
		Msg("Capture file attached")
}

func (a *Application) detachCapture() {
	a.mu.Lock()
	stop := a.capture
	a.capture = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (a *Application) onSegment(seg models.TranscriptSegment) {
	a.Assembler.AddSegment(seg)

	a.mu.Lock()
	ref := a.recordingRef
	a.mu.Unlock()
	ev := events.NewSegmentEvent(ref, seg)
	a.enqueue(func(ctx context.Context) {
		_ = a.Publisher.PublishSegment(ctx, ev)
	})
}

func (a *Application) onAvailability(av session.Availability) {
	ev := events.NewAvailabilityEvent(av)
	a.enqueue(func(ctx context.Context) {
		_ = a.Publisher.PublishAvailability(ctx, ev)
	})
}

func (a *Application) persistAligned(ctx context.Context, r attribution.Result) error {
	return a.Publisher.PublishAligned(ctx, events.NewAlignedEvent(r))
}

// enqueue hands work to the publishing worker without blocking engine
// dispatch. Work is dropped when the outbox is full.
func (a *Application) enqueue(fn func(context.Context)) {
	select {
	case a.outbox <- fn:
	default:
		a.Logger.Warn().Int("capacity", outboxSize).Msg("Event outbox full, dropping event")
	}
}

func (a *Application) publishLoop() {
	defer a.wg.Done()
	run := func(fn func(context.Context)) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		fn(ctx)
	}
	for {
		select {
		case fn := <-a.outbox:
			run(fn)
		case <-a.stopped:
			for {
				select {
				case fn := <-a.outbox:
					run(fn)
				default:
					return
				}
			}
		}
	}
}

func (a *Application) healthLoop(ch <-chan diarization.Notification) {
	defer a.wg.Done()
	for n := range ch {
		id := a.Controller.Status().SessionID
		if id == "" {
			continue
		}
		ev := events.NewHealthEvent(id, n)
		a.enqueue(func(ctx context.Context) {
			_ = a.Publisher.PublishHealth(ctx, ev)
		})
	}
}
