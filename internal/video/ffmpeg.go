// Package video renders the generated images into a vertical slideshow
// clip with ffmpeg, and muxes the finished clip with the audio track.
package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/stoney2759/autotube/internal/provider"
	"github.com/stoney2759/autotube/internal/types"
)

// Options tunes rendering.
type Options struct {
	// FFmpegPath is the ffmpeg binary. Empty means "ffmpeg" on PATH.
	FFmpegPath string
	// Resolution is "WIDTHxHEIGHT", e.g. "1080x1920".
	Resolution string
	// DurationSeconds is the total clip length.
	DurationSeconds int
	// FPS is the output frame rate.
	FPS int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FFmpegPath == "" {
		out.FFmpegPath = "ffmpeg"
	}
	if out.Resolution == "" {
		out.Resolution = "1080x1920"
	}
	if out.DurationSeconds <= 0 {
		out.DurationSeconds = 60
	}
	if out.FPS <= 0 {
		out.FPS = 30
	}
	return out
}

// Composer implements the video stage capability.
type Composer struct {
	opts Options
}

// NewComposer creates a renderer with the given options.
func NewComposer(opts Options) (*Composer, error) {
	opts = (&opts).withDefaults()
	if _, _, err := parseResolution(opts.Resolution); err != nil {
		return nil, err
	}
	return &Composer{opts: opts}, nil
}

// Name identifies the stage.
func (c *Composer) Name() string { return types.StageVideo }

// Run renders the prior stage's images into <workdir>/video/slideshow.mp4.
// Each image holds the screen for an equal share of the clip duration.
func (c *Composer) Run(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	images, err := in.PriorImagePaths()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(in.WorkDir, "video")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, provider.Retryable(types.StageVideo, "failed to create video directory", err)
	}

	listPath := filepath.Join(dir, "frames.txt")
	if err := writeConcatList(listPath, images, c.opts.DurationSeconds); err != nil {
		return nil, provider.Retryable(types.StageVideo, "failed to write frame list", err)
	}

	width, height, err := parseResolution(c.opts.Resolution)
	if err != nil {
		return nil, err
	}
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		width, height, width, height, c.opts.FPS,
	)

	outPath := filepath.Join(dir, "slideshow.mp4")
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", filter,
		"-pix_fmt", "yuv420p",
		"-t", fmt.Sprintf("%d", c.opts.DurationSeconds),
		outPath,
	}
	if err := runFFmpeg(ctx, c.opts.FFmpegPath, args); err != nil {
		return nil, err
	}

	return &provider.Output{ArtifactRef: outPath, Payload: outPath}, nil
}

// Mux combines a rendered clip and an audio track into a single file,
// re-using the video stream and trimming to the shorter input.
func (c *Composer) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outPath,
	}
	return runFFmpeg(ctx, c.opts.FFmpegPath, args)
}

// writeConcatList emits a concat-demuxer playlist with equal per-image
// durations. The last file is repeated without a duration, as the demuxer
// requires.
func writeConcatList(path string, images []string, totalSeconds int) error {
	per := float64(totalSeconds) / float64(len(images))
	var b strings.Builder
	for _, img := range images {
		abs, err := filepath.Abs(img)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", abs)
		fmt.Fprintf(&b, "duration %.3f\n", per)
	}
	last, err := filepath.Abs(images[len(images)-1])
	if err != nil {
		return err
	}
	fmt.Fprintf(&b, "file '%s'\n", last)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func parseResolution(res string) (int, int, error) {
	var width, height int
	if _, err := fmt.Sscanf(res, "%dx%d", &width, &height); err != nil || width <= 0 || height <= 0 {
		return 0, 0, provider.Fatal(types.StageVideo, fmt.Sprintf("invalid resolution %q", res), nil)
	}
	return width, height, nil
}

// runFFmpeg invokes ffmpeg and classifies failures: a missing binary is
// fatal, a non-zero exit is retryable with the tail of stderr attached.
func runFFmpeg(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return provider.Fatal(types.StageVideo, fmt.Sprintf("ffmpeg binary %q not found", bin), err)
		}
		msg := "ffmpeg failed"
		if tail := stderrTail(stderr.String(), 6); tail != "" {
			msg = fmt.Sprintf("ffmpeg failed: %s", tail)
		}
		return provider.Retryable(types.StageVideo, msg, err)
	}
	return nil
}

func stderrTail(out string, lines int) string {
	all := strings.Split(strings.TrimSpace(out), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.TrimSpace(strings.Join(all, "\n"))
}
