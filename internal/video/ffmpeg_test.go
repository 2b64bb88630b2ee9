package video

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoney2759/autotube/internal/provider"
)

func TestNewComposer_ValidatesResolution(t *testing.T) {
	_, err := NewComposer(Options{Resolution: "vertical"})
	require.Error(t, err)

	_, err = NewComposer(Options{Resolution: "0x1920"})
	require.Error(t, err)

	c, err := NewComposer(Options{})
	require.NoError(t, err)
	assert.Equal(t, "1080x1920", c.opts.Resolution)
	assert.Equal(t, 60, c.opts.DurationSeconds)
	assert.Equal(t, 30, c.opts.FPS)
	assert.Equal(t, "ffmpeg", c.opts.FFmpegPath)
}

func TestParseResolution(t *testing.T) {
	w, h, err := parseResolution("1080x1920")
	require.NoError(t, err)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	_, _, err = parseResolution("1080")
	require.Error(t, err)
	assert.False(t, provider.IsRetryable(err))
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	images := []string{
		filepath.Join(dir, "image_01.png"),
		filepath.Join(dir, "image_02.png"),
		filepath.Join(dir, "image_03.png"),
	}

	listPath := filepath.Join(dir, "frames.txt")
	require.NoError(t, writeConcatList(listPath, images, 60))

	data, err := os.ReadFile(listPath)
	require.NoError(t, err)
	content := string(data)

	// Equal share per image, last file repeated without a duration.
	assert.Equal(t, 3, strings.Count(content, "duration 20.000"))
	assert.Equal(t, 4, strings.Count(content, "file '"))
	lines := strings.Split(strings.TrimSpace(content), "\n")
	assert.Contains(t, lines[len(lines)-1], "image_03.png")
}

func TestStderrTail(t *testing.T) {
	out := "line1\nline2\nline3\nline4"
	assert.Equal(t, "line3\nline4", stderrTail(out, 2))
	assert.Equal(t, out, stderrTail(out, 10))
	assert.Equal(t, "", stderrTail("", 3))
}

func TestRunFFmpeg_MissingBinaryIsFatal(t *testing.T) {
	err := runFFmpeg(t.Context(), "definitely-not-ffmpeg-binary", []string{"-version"})
	require.Error(t, err)
	assert.False(t, provider.IsRetryable(err))
}
