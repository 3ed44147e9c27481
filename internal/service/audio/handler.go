// Package audio bridges the capture collaborator to the session controller.
// It knows the PCM format math, reads WAV input, and enforces per-chunk
// ingest limits before audio reaches the controller.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"live-transcript-service/internal/observability/metrics"
)

// ErrChunkTooLarge is returned for chunks above Limits.MaxChunkBytes.
var ErrChunkTooLarge = errors.New("audio: chunk exceeds limit")

// Chunk is one capture delivery.
type Chunk struct {
	Data   []byte
	Format Format
}

// Sink receives validated chunks. The session controller implements it.
type Sink interface {
	HandleAudioChunk(data []byte, f Format) error
}

// Source is a push-based capture collaborator.
type Source interface {
	// Subscribe registers fn for every chunk and returns a cancel function.
	Subscribe(fn func(Chunk)) (cancel func())
}

// Limits are ingest guardrails applied per chunk.
type Limits struct {
	MaxChunkBytes    int           // Largest accepted chunk
	MaxChunkDuration time.Duration // Longest accepted chunk, by format
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxChunkBytes:    4 * 1024 * 1024, // 4MB (~11s at 48kHz 32-bit stereo)
		MaxChunkDuration: 10 * time.Second,
	}
}

// Stats counts what the handler has seen.
type Stats struct {
	Chunks   int64 `json:"chunks"`
	Bytes    int64 `json:"bytes"`
	Rejected int64 `json:"rejected"`
	Failed   int64 `json:"failed"`
}

// Handler validates capture chunks and forwards them to a Sink.
type Handler struct {
	sink    Sink
	limits  Limits
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	stats   Stats
	lastErr string // logged once until it changes
}

// NewHandler creates a handler forwarding to sink.
func NewHandler(sink Sink, limits Limits, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		sink:    sink,
		limits:  limits,
		metrics: m,
		logger:  log.With().Str("component", "audio").Logger(),
	}
}

// Handle validates c and forwards it.
func (h *Handler) Handle(c Chunk) error {
	if len(c.Data) == 0 {
		return nil
	}
	if err := c.Format.Validate(); err != nil {
		h.reject("format")
		return err
	}
	if h.limits.MaxChunkBytes > 0 && len(c.Data) > h.limits.MaxChunkBytes {
		h.reject("bytes")
		return fmt.Errorf("%w: %d > %d bytes", ErrChunkTooLarge, len(c.Data), h.limits.MaxChunkBytes)
	}
	if h.limits.MaxChunkDuration > 0 {
		if d := time.Duration(c.Format.Seconds(len(c.Data)) * float64(time.Second)); d > h.limits.MaxChunkDuration {
			h.reject("duration")
			return fmt.Errorf("%w: %v > %v", ErrChunkTooLarge, d, h.limits.MaxChunkDuration)
		}
	}
	if fs := c.Format.FrameSize(); fs > 0 && len(c.Data)%fs != 0 {
		h.logger.Debug().Int("bytes", len(c.Data)).Int("frameSize", fs).Msg("Chunk is not frame aligned")
	}

	err := h.sink.HandleAudioChunk(c.Data, c.Format)

	h.mu.Lock()
	h.stats.Chunks++
	h.stats.Bytes += int64(len(c.Data))
	if err != nil {
		h.stats.Failed++
		if msg := err.Error(); msg != h.lastErr {
			h.lastErr = msg
			h.logger.Warn().Err(err).Msg("Audio chunk not accepted")
		}
	} else {
		h.lastErr = ""
	}
	h.mu.Unlock()
	return err
}

func (h *Handler) reject(limit string) {
	h.metrics.RecordLimitExceeded(limit)
	h.mu.Lock()
	h.stats.Rejected++
	h.mu.Unlock()
}

// Attach subscribes the handler to src. Errors are counted and logged.
func (h *Handler) Attach(src Source) (detach func()) {
	return src.Subscribe(func(c Chunk) {
		_ = h.Handle(c)
	})
}

// Stats returns a copy of the counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Pump reads PCM from r in chunks of chunkDur and passes each to fn. When pace
// is true it sleeps between chunks so delivery matches real time.
func Pump(ctx context.Context, r io.Reader, f Format, chunkDur time.Duration, pace bool, fn func(Chunk) error) (int64, error) {
	size := f.BytesFor(chunkDur)
	if size <= 0 {
		return 0, fmt.Errorf("%w: chunk duration %v too short", ErrInvalidFormat, chunkDur)
	}

	var total int64
	buf := make([]byte, size)
	ticker := time.NewTicker(chunkDur)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if ferr := fn(Chunk{Data: data, Format: f}); ferr != nil {
				return total, ferr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		if pace {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// ReaderSource is a Source that plays a PCM reader in real time.
type ReaderSource struct {
	r        io.Reader
	format   Format
	chunkDur time.Duration
}

// NewReaderSource creates a Source over r.
func NewReaderSource(r io.Reader, f Format, chunkDur time.Duration) *ReaderSource {
	return &ReaderSource{r: r, format: f, chunkDur: chunkDur}
}

// Subscribe starts playback to fn. Cancel stops it.
func (s *ReaderSource) Subscribe(fn func(Chunk)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, err := Pump(ctx, s.r, s.format, s.chunkDur, true, func(c Chunk) error {
			fn(c)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("Audio source stopped")
		}
	}()
	return cancel
}
