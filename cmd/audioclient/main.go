// Command audioclient plays a PCM WAV file into a running service through the
// HTTP control API, in real time, and prints the session result.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"live-transcript-service/internal/service/audio"
)

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to a PCM WAV file")
	server := flag.String("server", "http://localhost:8080", "Control API base URL")
	recordingRef := flag.String("recording", "test-audio-"+time.Now().Format("150405"), "Recording reference")
	chunk := flag.Duration("chunk", 100*time.Millisecond, "Chunk duration")
	fast := flag.Bool("fast", false, "Send without real-time pacing")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr, err := audio.ReadWAVHeader(r)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV header")
	}
	log.Info().
		Str("format", hdr.Format.String()).
		Float64("seconds", hdr.Format.Seconds(int(hdr.DataSize))).
		Msg("WAV file")

	c := &client{base: *server, http: &http.Client{Timeout: 30 * time.Second}}

	var started struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.post("/v1/sessions", map[string]string{"recordingRef": *recordingRef}, &started); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}
	log.Info().Str("sessionId", started.SessionID).Msg("Session started")

	q := url.Values{}
	q.Set("sampleRate", strconv.Itoa(hdr.Format.SampleRate))
	q.Set("channels", strconv.Itoa(hdr.Format.Channels))
	q.Set("bitDepth", strconv.Itoa(hdr.Format.BitDepth))
	audioURL := *server + "/v1/sessions/current/audio?" + q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	var chunks int
	start := time.Now()
	total, err := audio.Pump(ctx, r, hdr.Format, *chunk, !*fast, func(ch audio.Chunk) error {
		chunks++
		return c.send(audioURL, ch.Data)
	})
	if err != nil {
		log.Error().Err(err).Msg("Streaming stopped")
	}
	log.Info().
		Int("chunks", chunks).
		Int64("bytes", total).
		Dur("elapsed", time.Since(start)).
		Msg("Audio sent")

	var stopped struct {
		SessionID    string `json:"sessionId"`
		SegmentCount int    `json:"segmentCount"`
	}
	if err := c.post("/v1/sessions/current/stop", nil, &stopped); err != nil {
		log.Fatal().Err(err).Msg("Failed to stop session")
	}
	log.Info().Int("segments", stopped.SegmentCount).Msg("Session stopped")

	transcript, err := c.get("/v1/sessions/current/transcript")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch transcript")
	}
	fmt.Println(string(transcript))
}

type client struct {
	base string
	http *http.Client
}

func (c *client) post(path string, body, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	resp, err := c.http.Post(c.base+path, "application/json", rd)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s: %s", path, resp.Status, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) send(u string, data []byte) error {
	resp, err := c.http.Post(u, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("audio: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

func (c *client) get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
