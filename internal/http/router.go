package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"live-transcript-service/internal/app"
	"live-transcript-service/internal/models"
	"live-transcript-service/internal/schema"
	"live-transcript-service/internal/service/alignment"
	"live-transcript-service/internal/service/attribution"
	"live-transcript-service/internal/service/audio"
	"live-transcript-service/internal/service/diarization"
	"live-transcript-service/internal/service/engine"
	"live-transcript-service/internal/service/session"
)

const maxJSONBody = 8 << 20

type startRequest struct {
	RecordingRef string          `json:"recordingRef" validate:"required"`
	Config       json.RawMessage `json:"config,omitempty"`
}

type startResponse struct {
	SessionID  string `json:"sessionId"`
	State      string `json:"state"`
	Optimistic bool   `json:"optimistic,omitempty"`
}

type alignRequest struct {
	Segments    []models.TranscriptSegment  `json:"segments" validate:"dive"`
	Diarization []models.DiarizationSegment `json:"diarization" validate:"dive"`
	Policy      string                      `json:"policy,omitempty"`
}

type coverageRequest struct {
	WindowStart float64                     `json:"windowStart" validate:"gte=0"`
	WindowEnd   float64                     `json:"windowEnd" validate:"gtefield=WindowStart"`
	Diarization []models.DiarizationSegment `json:"diarization" validate:"dive"`
	Streaming   bool                        `json:"streaming,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type handlers struct {
	app       *app.Application
	validator *schema.Validator
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{app: application, validator: schema.New()}
	events := newFeed(application.Controller)
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", h.startSession)
		r.Route("/sessions/current", func(r chi.Router) {
			r.Get("/", h.status)
			r.Post("/audio", h.audio)
			r.Post("/pause", h.pause)
			r.Post("/resume", h.resume)
			r.Post("/stop", h.stop)
			r.Post("/reset", h.reset)
			r.Get("/diagnostics", h.diagnostics)
			r.Get("/diarization", h.diarization)
			r.Get("/transcript", h.transcript)
			r.Get("/events", events.ServeHTTP)
		})
		r.Post("/alignment", h.align)
		r.Post("/alignment/coverage", h.coverage)
	})

	return r
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg := h.app.SessionDefaults()
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	ch, err := h.app.Controller.Start(r.Context(), req.RecordingRef, cfg)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	st := h.app.Controller.Status()
	resp := startResponse{SessionID: st.SessionID, State: st.State.String()}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			writeControllerError(w, res.Err)
			return
		}
		resp.State = h.app.Controller.Status().State.String()
		resp.Optimistic = res.Optimistic
		writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		writeError(w, http.StatusRequestTimeout, r.Context().Err())
	}
}

func (h *handlers) audio(w http.ResponseWriter, r *http.Request) {
	f, err := formatFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := h.app.Cfg.Audio.MaxChunkBytes
	data, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Audio.Handle(audio.Chunk{Data: data, Format: f}); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func formatFromQuery(r *http.Request) (audio.Format, error) {
	q := r.URL.Query()
	f := audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	for key, dst := range map[string]*int{
		"sampleRate": &f.SampleRate,
		"channels":   &f.Channels,
		"bitDepth":   &f.BitDepth,
	} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid " + key + ": " + v)
		}
		*dst = n
	}
	return f, nil
}

func (h *handlers) pause(w http.ResponseWriter, _ *http.Request) {
	if err := h.app.Controller.Pause(); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Controller.Status())
}

func (h *handlers) resume(w http.ResponseWriter, _ *http.Request) {
	if err := h.app.Controller.Resume(); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Controller.Status())
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Controller.Stop(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) reset(w http.ResponseWriter, _ *http.Request) {
	h.app.Controller.ForceReset()
	writeJSON(w, http.StatusOK, h.app.Controller.Status())
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Controller.Status())
}

func (h *handlers) diagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Session session.AudioDiagnostics `json:"session"`
		Ingest  audio.Stats              `json:"ingest"`
	}{h.app.Controller.Diagnostics(), h.app.Audio.Stats()})
}

func (h *handlers) diarization(w http.ResponseWriter, _ *http.Request) {
	st := h.app.Controller.Status()
	writeJSON(w, http.StatusOK, struct {
		Availability session.Availability    `json:"availability"`
		Health       diarization.HealthState `json:"health"`
	}{st.Diarization, h.app.Controller.DiarizationHealth()})
}

func (h *handlers) transcript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Assembler.Assemble())
}

func (h *handlers) align(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if !h.decode(w, r, &req) {
		return
	}
	opts := h.app.AttributionOptions()
	if req.Policy != "" {
		p, err := attribution.ParsePolicy(req.Policy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Policy = p
	}
	res := attribution.Attribute(req.Segments, req.Diarization, opts)
	if res.Outcome == attribution.OutcomeBlocked {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) coverage(w http.ResponseWriter, r *http.Request) {
	var req coverageRequest
	if !h.decode(w, r, &req) {
		return
	}
	opts := h.app.AttributionOptions().Coverage
	if req.Streaming {
		opts = alignment.StreamingCoverageOptions()
	}
	writeJSON(w, http.StatusOK, alignment.ValidateCoverage(req.WindowStart, req.WindowEnd, req.Diarization, opts))
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the caller should continue.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := h.validator.Validate(dst); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeControllerError(w http.ResponseWriter, err error) {
	var engErr *engine.EngineError
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &engErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Kind: string(engErr.Kind)})
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotRecording):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, audio.ErrChunkTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, audio.ErrInvalidFormat), errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, session.ErrNoAudio),
		errors.Is(err, session.ErrStopped),
		errors.Is(err, session.ErrReset):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Writing response failed")
	}
}
