// Package images provides the image stage: an HTTP adapter that turns the
// idea's prompts into PNG files under the run work directory. The endpoint
// is any image-generation API accepting a JSON prompt and answering with
// base64 image data.
package images

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

// Options tunes image generation.
type Options struct {
	// NegativePrompt is sent with every request.
	NegativePrompt string
	// Style is a free-form style hint for the backend.
	Style string
	// Timeout bounds a single HTTP request. Zero uses a 120s default.
	Timeout time.Duration
}

// Client implements the image stage capability.
type Client struct {
	endpoint string
	hc       *http.Client
	opts     Options
}

// NewClient creates an adapter for the given endpoint. A missing endpoint
// is a construction-time error.
func NewClient(endpoint string, opts Options) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("image endpoint is required")
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
func (c *Client) Name() string { return types.StageImages }

// Run generates one image per prompt from the idea stage and writes them
// under <workdir>/images. The whole prompt list must succeed; a failed
// prompt fails the attempt so the engine's retry covers it.
func (c *Client) Run(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	idea, err := in.PriorIdea()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(in.WorkDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, provider.Retryable(types.StageImages, "failed to create image directory", err)
	}

	paths := make([]string, 0, len(idea.ImagePrompts))
	for i, prompt := range idea.ImagePrompts {
		data, err := c.generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, fmt.Sprintf("image_%02d.png", i+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, provider.Retryable(types.StageImages, "failed to write image file", err)
		}
		paths = append(paths, path)
	}

	return &provider.Output{ArtifactRef: dir, Payload: paths}, nil
}

// generateRequest is the wire format sent to the backend.
type generateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Style          string `json:"style,omitempty"`
}

// generateResponse covers the common response shapes: a top-level base64
// field or a data array of items carrying base64 payloads.
type generateResponse struct {
	ImageBase64 string `json:"image_base64"`
	Data        []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *Client) generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(generateRequest{
		Prompt:         prompt,
		NegativePrompt: c.opts.NegativePrompt,
		Style:          c.opts.Style,
	})
	if err != nil {
		return nil, provider.Fatal(types.StageImages, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.Fatal(types.StageImages, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, provider.Retryable(types.StageImages, "image request failed", err)
	}
	defer resp.Body.Close()

	if err := provider.ClassifyHTTPStatus(types.StageImages, resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, err
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, provider.Retryable(types.StageImages, "failed to read response", err)
	}

	// Raw image bytes are accepted as-is; JSON responses carry base64.
	if ct := resp.Header.Get("Content-Type"); ct == "image/png" || ct == "image/jpeg" {
		return payload, nil
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, provider.Retryable(types.StageImages, "unexpected response body", err)
	}
	b64 := decoded.ImageBase64
	if b64 == "" && len(decoded.Data) > 0 {
		b64 = decoded.Data[0].B64JSON
	}
	if b64 == "" {
		return nil, provider.Retryable(types.StageImages, "response carried no image data", nil)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, provider.Retryable(types.StageImages, "failed to decode image data", err)
	}
	return data, nil
}
