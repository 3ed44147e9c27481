package session

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/engine"
)

// errBacklogFull is returned by push when the engine is not keeping up.
var errBacklogFull = errors.New("session: engine write backlog full")

// engineWriter owns the engine's stdin. Chunks are written from one goroutine
// in the order they were pushed, so a stalled engine never holds the
// controller lock.
type engineWriter struct {
	proc    engine.Process
	logger  zerolog.Logger
	metrics *metrics.Metrics
	limit   int // backlog bytes; 0 is unbounded

	aborted atomic.Bool

	mu      sync.Mutex
	queue   [][]byte
	pending int
	closing bool
	stopped bool
	err     error
	chunks  int64
	bytes   int64

	wake chan struct{}
	done chan struct{}
}

func newEngineWriter(proc engine.Process, logger zerolog.Logger, m *metrics.Metrics, limit int) *engineWriter {
	w := &engineWriter{
		proc:    proc,
		logger:  logger,
		metrics: m,
		limit:   limit,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// push queues one chunk behind everything pushed before it.
func (w *engineWriter) push(data []byte) error {
	w.mu.Lock()
	if w.stopped || w.closing {
		err := w.err
		w.mu.Unlock()
		if err == nil {
			err = io.ErrClosedPipe
		}
		return err
	}
	if w.limit > 0 && w.pending > 0 && w.pending+len(data) > w.limit {
		w.mu.Unlock()
		return errBacklogFull
	}
	w.queue = append(w.queue, data)
	w.pending += len(data)
	w.mu.Unlock()
	w.signal()
	return nil
}

// pushAll queues the startup buffer. The buffer is already bounded.
func (w *engineWriter) pushAll(chunks [][]byte) {
	w.mu.Lock()
	if !w.stopped && !w.closing {
		for _, c := range chunks {
			w.queue = append(w.queue, c)
			w.pending += len(c)
		}
	}
	w.mu.Unlock()
	w.signal()
}

// closeInput closes the engine's stdin once the queue is written.
func (w *engineWriter) closeInput() {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	w.signal()
}

// stop discards queued audio. A write in progress finishes or fails when the
// process is killed.
func (w *engineWriter) stop() {
	w.mu.Lock()
	w.stopped = true
	w.queue = nil
	w.pending = 0
	w.mu.Unlock()
	w.signal()
}

// abort kills the engine without the controller lock.
func (w *engineWriter) abort() {
	w.aborted.Store(true)
	w.stop()
	if err := w.proc.Kill(); err != nil {
		w.logger.Warn().Err(err).Msg("Killing engine failed")
	}
}

// stats returns chunks and bytes written and chunks still queued.
func (w *engineWriter) stats() (chunks, bytes int64, queued int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunks, w.bytes, len(w.queue)
}

func (w *engineWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *engineWriter) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closing && !w.stopped {
			w.mu.Unlock()
			<-w.wake
			w.mu.Lock()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			if err := w.proc.CloseInput(); err != nil {
				w.logger.Debug().Err(err).Msg("Closing engine input failed")
			}
			return
		}
		data := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := w.proc.Write(data); err != nil {
			w.mu.Lock()
			dropped := len(w.queue)
			w.err = err
			w.stopped = true
			w.queue = nil
			w.pending = 0
			w.mu.Unlock()
			if !w.aborted.Load() {
				w.logger.Warn().Err(err).Int("discarded", dropped).Msg("Engine write failed, discarding queued audio")
			}
			return
		}

		w.mu.Lock()
		w.pending -= len(data)
		w.chunks++
		w.bytes += int64(len(data))
		w.mu.Unlock()
		w.metrics.RecordAudioForwarded(1)
	}
}
