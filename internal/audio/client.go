// Package audio provides the audio stage: an HTTP text-to-speech adapter.
// The endpoint synthesizes the idea's description with the configured voice
// and answers with base64 audio content.
package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/stoney2759/autotube/internal/provider"
	"github.com/stoney2759/autotube/internal/types"
)

// Options tunes audio synthesis.
type Options struct {
	// Voice is the synthesis voice identifier.
	Voice string
	// DurationSeconds is the target track length, passed as a hint.
	DurationSeconds int
	// Timeout bounds a single HTTP request. Zero uses a 120s default.
	Timeout time.Duration
}

// Client implements the audio stage capability.
type Client struct {
	endpoint string
	hc       *http.Client
	opts     Options
}

// NewClient creates an adapter for the given endpoint.
func NewClient(endpoint string, opts Options) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("audio endpoint is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: timeout},
		opts:     opts,
	}, nil
}

// Name identifies the stage.
func (c *Client) Name() string { return types.StageAudio }

// synthesizeRequest is the wire format sent to the backend.
type synthesizeRequest struct {
	Text            string `json:"text"`
	Voice           string `json:"voice,omitempty"`
	Mood            string `json:"mood,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// synthesizeResponse carries base64 audio, matching the common TTS
// response shape.
type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
	AudioBase64  string `json:"audio_base64"`
}

// Run synthesizes the idea's description into <workdir>/audio/track.mp3.
func (c *Client) Run(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	idea, err := in.PriorIdea()
	if err != nil {
		return nil, err
	}

	script := idea.Description
	if script == "" {
		script = idea.Title
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:            script,
		Voice:           c.opts.Voice,
		Mood:            idea.Mood,
		DurationSeconds: c.opts.DurationSeconds,
	})
	if err != nil {
		return nil, provider.Fatal(types.StageAudio, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.Fatal(types.StageAudio, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, provider.Retryable(types.StageAudio, "audio request failed", err)
	}
	defer resp.Body.Close()

	if err := provider.ClassifyHTTPStatus(types.StageAudio, resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, err
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, provider.Retryable(types.StageAudio, "failed to read response", err)
	}

	data := payload
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" && ct != "audio/wav" {
		var decoded synthesizeResponse
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, provider.Retryable(types.StageAudio, "unexpected response body", err)
		}
		b64 := decoded.AudioContent
		if b64 == "" {
			b64 = decoded.AudioBase64
		}
		if b64 == "" {
			return nil, provider.Retryable(types.StageAudio, "response carried no audio data", nil)
		}
		if data, err = base64.StdEncoding.DecodeString(b64); err != nil {
			return nil, provider.Retryable(types.StageAudio, "failed to decode audio data", err)
		}
	}

	dir := filepath.Join(in.WorkDir, "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, provider.Retryable(types.StageAudio, "failed to create audio directory", err)
	}
	path := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, provider.Retryable(types.StageAudio, "failed to write audio file", err)
	}

	return &provider.Output{ArtifactRef: path, Payload: path}, nil
}
