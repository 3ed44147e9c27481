// Package google runs recognition on Google Cloud Speech-to-Text behind the
// engine.Process contract: audio is streamed to StreamingRecognize and the
// responses are rendered as the engine's line-delimited JSON messages.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"live-transcript-service/internal/service/engine"
)

// maxRequestBytes is the largest audio payload sent in one request.
const maxRequestBytes = 25600

// Config configures the recognizer.
type Config struct {
	// LanguageCode is used when the session asks for automatic detection.
	LanguageCode string
	Model        string
	Punctuation  bool
}

// Stream is the bidirectional recognition stream.
type Stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Opener opens a recognition stream bound to ctx.
type Opener func(ctx context.Context) (Stream, error)

// Launcher implements engine.Launcher on Cloud Speech-to-Text.
type Launcher struct {
	cfg    Config
	open   Opener
	client *speech.Client
}

// NewLauncher creates a launcher with a Speech client. Requires
// GOOGLE_APPLICATION_CREDENTIALS to be set.
func NewLauncher(ctx context.Context, cfg Config) (*Launcher, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	l := NewLauncherWithOpener(cfg, func(ctx context.Context) (Stream, error) {
		return c.StreamingRecognize(ctx)
	})
	l.client = c
	return l, nil
}

// NewLauncherWithOpener creates a launcher over an arbitrary stream source.
func NewLauncherWithOpener(cfg Config, open Opener) *Launcher {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	return &Launcher{cfg: cfg, open: open}
}

// Close releases the Speech client.
func (l *Launcher) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Launch opens a stream configured for args and starts translating responses.
func (l *Launcher) Launch(ctx context.Context, args engine.LaunchArgs) (engine.Process, error) {
	if args.BitDepth != 16 {
		return nil, fmt.Errorf("google: LINEAR16 needs 16-bit audio, got %d-bit", args.BitDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The stream outlives the launch request.
	sctx, cancel := context.WithCancel(context.Background())
	stream, err := l.open(sctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("google: open stream: %w", err)
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: l.streamingConfig(args),
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("google: send config: %w", err)
	}

	r, w := io.Pipe()
	p := &process{
		args:   args,
		stream: stream,
		cancel: cancel,
		outR:   r,
		outW:   w,
		done:   make(chan struct{}),
		logger: log.With().Str("component", "engine.google").Logger(),
	}
	go p.listen(l.cfg.Model)
	return p, nil
}

func (l *Launcher) streamingConfig(args engine.LaunchArgs) *speechpb.StreamingRecognitionConfig {
	lang := args.Language
	if lang == "" || lang == "auto" {
		lang = l.cfg.LanguageCode
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(args.SampleRate),
		AudioChannelCount:          int32(args.Channels),
		LanguageCode:               lang,
		Model:                      l.cfg.Model,
		EnableAutomaticPunctuation: l.cfg.Punctuation,
		EnableWordTimeOffsets:      args.Diarization,
	}
	if args.Diarization {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          int32(args.MaxSpeakers),
		}
	}
	return &speechpb.StreamingRecognitionConfig{Config: rc, InterimResults: true}
}

// process is one streaming recognition. It has no operating system pid.
type process struct {
	args   engine.LaunchArgs
	stream Stream
	cancel context.CancelFunc
	logger zerolog.Logger

	sendMu      sync.Mutex
	inputClosed bool

	outR *io.PipeReader
	outW *io.PipeWriter
	done chan struct{}

	mu     sync.Mutex
	status engine.ExitStatus
	killed bool

	// Owned by listen.
	lastEnd     float64
	lastSpeaker string
	finals      int
}

func (p *process) Write(b []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.inputClosed {
		return io.ErrClosedPipe
	}
	for len(b) > 0 {
		n := min(len(b), maxRequestBytes)
		err := p.stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: b[:n]},
		})
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (p *process) CloseInput() error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.inputClosed {
		return nil
	}
	p.inputClosed = true
	return p.stream.CloseSend()
}

func (p *process) Output() io.Reader { return p.outR }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Status() engine.ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.cancel()
	return nil
}

func (p *process) PID() int { return 0 }

// listen converts responses to engine messages until the stream ends.
// TODO: reopen the stream before the five minute streaming limit and carry
// lastEnd over so long sessions keep transcribing.
func (p *process) listen(model string) {
	if model == "" {
		model = "default"
	}
	p.emit(engine.Ready{Model: model, Message: "streaming to Cloud Speech-to-Text"})
	if p.args.Diarization {
		p.emit(engine.DiarizationAvailable{Backend: "google", Message: "word-level speaker tags"})
	}

	for {
		resp, err := p.stream.Recv()
		if err != nil {
			p.finish(err)
			return
		}
		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			p.finish(status.ErrorProto(st))
			return
		}
		for _, r := range resp.GetResults() {
			p.handleResult(r)
		}
	}
}

func (p *process) handleResult(r *speechpb.StreamingRecognitionResult) {
	alts := r.GetAlternatives()
	if len(alts) == 0 {
		return
	}
	alt := alts[0]
	end := r.GetResultEndTime().AsDuration().Seconds()
	if end < p.lastEnd {
		end = p.lastEnd
	}
	seg := engine.Segment{
		Text:       alt.GetTranscript(),
		Start:      p.args.TimeOffset + p.lastEnd,
		End:        p.args.TimeOffset + end,
		Confidence: float64(alt.GetConfidence()),
		IsFinal:    r.GetIsFinal(),
	}
	if !seg.IsFinal {
		// Interim results carry stability rather than confidence.
		seg.Confidence = float64(r.GetStability())
		p.emit(seg)
		return
	}

	if p.args.Diarization {
		turns := speakerTurns(alt.GetWords(), p.lastEnd)
		for _, t := range turns {
			if t.speaker != p.lastSpeaker {
				p.emit(engine.SpeakerChange{
					FromSpeaker: p.lastSpeaker,
					ToSpeaker:   t.speaker,
					Timestamp:   p.args.TimeOffset + t.start,
				})
				p.lastSpeaker = t.speaker
			}
			p.emit(engine.SpeakerSegment{
				Speaker:    t.speaker,
				Start:      p.args.TimeOffset + t.start,
				End:        p.args.TimeOffset + t.end,
				Confidence: t.confidence,
			})
		}
		if sp, conf, ok := dominant(turns); ok {
			seg.Speaker = sp
			seg.SpeakerConfidence = &conf
		}
	}
	p.emit(seg)
	p.lastEnd = end
	p.finals++
}

func (p *process) emit(m engine.Message) {
	line, err := engine.Encode(m)
	if err != nil {
		p.logger.Warn().Err(err).Str("type", string(m.Type())).Msg("Encoding engine message failed")
		return
	}
	if _, err := p.outW.Write(line); err != nil {
		p.logger.Debug().Err(err).Msg("Engine output closed")
	}
}

// finish ends the process. A clean end of stream after CloseInput exits 0.
func (p *process) finish(err error) {
	p.mu.Lock()
	killed := p.killed
	p.mu.Unlock()

	st := engine.ExitStatus{}
	switch {
	case killed:
		st = engine.ExitStatus{Code: -1, Signal: "killed", Err: err}
	case errors.Is(err, io.EOF):
		p.emit(engine.Complete{TotalSegments: p.finals, Duration: p.lastEnd})
	default:
		code := status.Code(err)
		p.emit(engine.Error{Message: status.Convert(err).Message(), Code: code.String()})
		st = engine.ExitStatus{Code: 1, Err: err, StderrTail: []string{err.Error()}}
		if code == codes.Unauthenticated || code == codes.PermissionDenied {
			st.StderrTail = append(st.StderrTail, "check GOOGLE_APPLICATION_CREDENTIALS")
		}
	}
	p.logger.Info().Int("finals", p.finals).Int("code", st.Code).Msg("Recognition stream ended")

	p.mu.Lock()
	p.status = st
	p.mu.Unlock()
	_ = p.outW.Close()
	p.cancel()
	close(p.done)
}

type turn struct {
	speaker    string
	start      float64
	end        float64
	confidence float64
	words      int
}

// speakerTurns groups consecutive words by speaker tag, skipping words that
// end at or before from. Untagged words are ignored.
func speakerTurns(words []*speechpb.WordInfo, from float64) []turn {
	var turns []turn
	for _, w := range words {
		tag := w.GetSpeakerTag()
		if tag <= 0 {
			continue
		}
		start := w.GetStartTime().AsDuration().Seconds()
		end := w.GetEndTime().AsDuration().Seconds()
		if end <= from {
			continue
		}
		speaker := fmt.Sprintf("SPEAKER_%02d", tag-1)
		conf := float64(w.GetConfidence())
		if n := len(turns); n > 0 && turns[n-1].speaker == speaker {
			t := &turns[n-1]
			t.end = end
			t.confidence = (t.confidence*float64(t.words) + conf) / float64(t.words+1)
			t.words++
			continue
		}
		turns = append(turns, turn{speaker: speaker, start: start, end: end, confidence: conf, words: 1})
	}
	return turns
}

// dominant returns the speaker with the most speaking time.
func dominant(turns []turn) (string, float64, bool) {
	total := map[string]time.Duration{}
	conf := map[string]float64{}
	best := ""
	for _, t := range turns {
		total[t.speaker] += time.Duration((t.end - t.start) * float64(time.Second))
		conf[t.speaker] = max(conf[t.speaker], t.confidence)
		if best == "" || total[t.speaker] > total[best] {
			best = t.speaker
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, conf[best], true
}
