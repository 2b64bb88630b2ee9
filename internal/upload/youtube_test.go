package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/stoney2759/autotube/internal/provider"
)

func writeCredFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600))
	return path
}

func noopMux(_ context.Context, _, _, _ string) error { return nil }

func TestNewUploader_ValidatesConfiguration(t *testing.T) {
	_, err := NewUploader(Options{}, noopMux)
	require.Error(t, err)

	_, err = NewUploader(Options{CredentialsFile: "/nonexistent/creds.json"}, noopMux)
	require.Error(t, err)

	cred := writeCredFile(t)
	_, err = NewUploader(Options{CredentialsFile: cred}, nil)
	require.Error(t, err)

	u, err := NewUploader(Options{CredentialsFile: cred}, noopMux)
	require.NoError(t, err)
	assert.Equal(t, "private", u.opts.Privacy)
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short title", TruncateTitle("  short title  "))

	exact := strings.Repeat("a", 100)
	assert.Equal(t, exact, TruncateTitle(exact))

	long := strings.Repeat("a", 150)
	got := TruncateTitle(long)
	assert.Equal(t, 100, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))

	// Truncation happens on rune boundaries, not bytes.
	unicode := strings.Repeat("é", 150)
	got = TruncateTitle(unicode)
	assert.Equal(t, 100, len([]rune(got)))
}

func TestClassifyAPIError(t *testing.T) {
	for _, code := range []int{401, 403} {
		err := classifyAPIError(&googleapi.Error{Code: code})
		require.Error(t, err)
		assert.False(t, provider.IsRetryable(err), code)
	}

	for _, code := range []int{429, 500, 503} {
		err := classifyAPIError(&googleapi.Error{Code: code})
		require.Error(t, err)
		assert.True(t, provider.IsRetryable(err), code)
	}

	// Other client errors are not worth retrying.
	err := classifyAPIError(&googleapi.Error{Code: 400})
	assert.False(t, provider.IsRetryable(err))

	// Transport-level failures are.
	err = classifyAPIError(errors.New("connection reset"))
	assert.True(t, provider.IsRetryable(err))
}

func TestPublishAtOnlyForDelayedPrivateUploads(t *testing.T) {
	cred := writeCredFile(t)
	u, err := NewUploader(Options{
		CredentialsFile: cred,
		Privacy:         "private",
		PublishDelay:    24 * time.Hour,
	}, noopMux)
	require.NoError(t, err)

	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	u.now = func() time.Time { return fixed }
	assert.Equal(t, "2026-09-01T12:00:00Z", u.publishAt())

	// Public uploads publish immediately regardless of the delay.
	u.opts.Privacy = "public"
	assert.Empty(t, u.publishAt())

	// No delay means no scheduled publication.
	u.opts.Privacy = "private"
	u.opts.PublishDelay = 0
	assert.Empty(t, u.publishAt())
}
