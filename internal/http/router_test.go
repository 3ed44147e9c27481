package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-transcript-service/internal/app"
	"live-transcript-service/internal/config"
	"live-transcript-service/internal/service/alignment"
	"live-transcript-service/internal/service/attribution"
	"live-transcript-service/internal/service/session"
)

func newTestRouter(t *testing.T) (*app.Application, http.Handler) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Session.StopGrace = time.Second
	a, err := app.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a, NewRouter(a)
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	_, h := newTestRouter(t)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/liveness", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/readiness", nil).Code)
}

func TestRouter_SessionLifecycle(t *testing.T) {
	a, h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/v1/sessions", []byte(`{"recordingRef":"rec-42","config":{"language":"en"}}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, session.StateStarting.String(), started.State)
	assert.Equal(t, "en", a.Controller.Status().Config.Language)
	assert.True(t, a.Controller.Status().Config.Diarization, "defaults fill fields the request omits")

	rec = do(t, h, http.MethodPost, "/v1/sessions", []byte(`{"recordingRef":"rec-43"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Four seconds of 16 kHz mono 16-bit silence.
	rec = do(t, h, http.MethodPost, "/v1/sessions/current/audio?sampleRate=16000&channels=1&bitDepth=16", make([]byte, 128000))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		return a.Controller.Status().State == session.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(t, h, http.MethodPost, "/v1/sessions/current/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/sessions/current/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/sessions/current/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/sessions/current/diagnostics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunksReceived":1`)

	rec = do(t, h, http.MethodPost, "/v1/sessions/current/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stopped session.StopResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, started.SessionID, stopped.SessionID)
	assert.Equal(t, 1, stopped.SegmentCount)
	assert.Equal(t, session.StateIdle, a.Controller.Status().State)

	rec = do(t, h, http.MethodGet, "/v1/sessions/current/transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res attribution.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, started.SessionID, res.SessionID)
	assert.NotEmpty(t, res.Segments)
}

func TestRouter_NoSession(t *testing.T) {
	_, h := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/sessions/current/stop", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/v1/sessions/current/pause", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/v1/sessions/current/audio", make([]byte, 320)).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/sessions/current/reset", nil).Code)

	rec := do(t, h, http.MethodGet, "/v1/sessions/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"IDLE"`)
}

func TestRouter_BadRequests(t *testing.T) {
	_, h := newTestRouter(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing recording ref", "/v1/sessions", `{}`, http.StatusBadRequest},
		{"malformed json", "/v1/sessions", `{`, http.StatusBadRequest},
		{"invalid session config", "/v1/sessions", `{"recordingRef":"r","config":{"maxSpeakers":99}}`, http.StatusBadRequest},
		{"unknown policy", "/v1/alignment", `{"segments":[],"diarization":[],"policy":"guess"}`, http.StatusBadRequest},
		{"inverted window", "/v1/alignment/coverage", `{"windowStart":5,"windowEnd":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, []byte(tt.body))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_AudioValidation(t *testing.T) {
	_, h := newTestRouter(t)

	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/v1/sessions", []byte(`{"recordingRef":"rec-1"}`)).Code)

	rec := do(t, h, http.MethodPost, "/v1/sessions/current/audio?sampleRate=abc", make([]byte, 320))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/sessions/current/audio?bitDepth=12", make([]byte, 320))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Eleven seconds exceeds the per-chunk duration limit.
	rec = do(t, h, http.MethodPost, "/v1/sessions/current/audio", make([]byte, 11*32000))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRouter_Alignment(t *testing.T) {
	_, h := newTestRouter(t)

	body := `{
		"segments": [
			{"id":"s1","sessionId":"x","text":"hello there","start":0,"end":2,"confidence":0.9,"isFinal":true},
			{"id":"s2","sessionId":"x","text":"hi","start":2,"end":4,"confidence":0.9,"isFinal":true}
		],
		"diarization": [
			{"speakerId":"A","start":0,"end":2,"confidence":0.9},
			{"speakerId":"B","start":2,"end":4,"confidence":0.9}
		]
	}`
	rec := do(t, h, http.MethodPost, "/v1/alignment", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res attribution.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, attribution.OutcomeAttributed, res.Outcome)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "A", res.Segments[0].SpeakerID)
	assert.Equal(t, "B", res.Segments[1].SpeakerID)

	noDiar := strings.Replace(body, `"diarization": [`, `"policy":"block", "diarization": [], "unused": [`, 1)
	rec = do(t, h, http.MethodPost, "/v1/alignment", []byte(noDiar))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestRouter_Coverage(t *testing.T) {
	_, h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/v1/alignment/coverage",
		[]byte(`{"windowStart":0,"windowEnd":10,"diarization":[{"speakerId":"A","start":0,"end":2,"confidence":1}]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var cov alignment.CoverageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cov))
	assert.False(t, cov.Valid)
	assert.InDelta(t, 0.2, cov.Coverage, 1e-9)
}

func TestRouter_EventFeed(t *testing.T) {
	_, h := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/current/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first struct {
		Type string           `json:"type"`
		Data session.Snapshot `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, session.StateIdle, first.Data.State)

	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json", strings.NewReader(`{"recordingRef":"rec-ws"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ev struct {
		Type string           `json:"type"`
		Data session.Progress `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "progress", ev.Type)
	assert.Equal(t, session.ProgressStarting, ev.Data.Kind)
}
