package audio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoney2759/autotube/internal/provider"
	"github.com/stoney2759/autotube/internal/types"
)

var mp3Data = []byte{0xff, 0xfb, 0x90, 0x00}

func stageInput(t *testing.T) *provider.Input {
	t.Helper()
	return &provider.Input{
		Request: types.NewRunRequest("travel"),
		WorkDir: t.TempDir(),
		Prior: map[string]*provider.Output{
			types.StageIdea: {Payload: &provider.Idea{
				Title:       "Hidden beaches",
				Description: "Three coves nobody talks about.",
				Mood:        "calm",
			}},
		},
	}
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient("", Options{})
	require.Error(t, err)
}

func TestRun_DecodesBase64Response(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"audioContent": base64.StdEncoding.EncodeToString(mp3Data),
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{Voice: "en-US-Standard-A", DurationSeconds: 60})
	require.NoError(t, err)

	in := stageInput(t)
	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "Three coves nobody talks about.", got.Text)
	assert.Equal(t, "en-US-Standard-A", got.Voice)
	assert.Equal(t, "calm", got.Mood)
	assert.Equal(t, 60, got.DurationSeconds)

	wantPath := filepath.Join(in.WorkDir, "audio", "track.mp3")
	assert.Equal(t, wantPath, out.ArtifactRef)
	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, mp3Data, data)
}

func TestRun_AcceptsRawAudioBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(mp3Data) //nolint:errcheck
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{})
	require.NoError(t, err)

	out, err := c.Run(context.Background(), stageInput(t))
	require.NoError(t, err)
	data, err := os.ReadFile(out.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, mp3Data, data)
}

func TestRun_FallsBackToTitleWhenDescriptionEmpty(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"audio_base64": base64.StdEncoding.EncodeToString(mp3Data),
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{})
	require.NoError(t, err)

	in := stageInput(t)
	in.Prior[types.StageIdea] = &provider.Output{Payload: &provider.Idea{Title: "Just a title"}}
	_, err = c.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Just a title", got.Text)
}

func TestRun_ThrottlingIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.Run(context.Background(), stageInput(t))
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))
}

func TestRun_EmptyResponseIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{}) //nolint:errcheck
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.Run(context.Background(), stageInput(t))
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))
}
