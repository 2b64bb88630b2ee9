// Package upload publishes the finished composite to YouTube.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/stoney2759/autotube/internal/provider"
	"github.com/stoney2759/autotube/internal/types"
)

const (
	// maxTitleLen is YouTube's video title limit.
	maxTitleLen = 100
	// shortsCategory is the "People & Blogs" category.
	shortsCategory = "22"
)

// MuxFunc combines a video clip and an audio track into outPath. The video
// package provides the implementation; it is injected here so the uploader
// stays free of rendering concerns.
type MuxFunc func(ctx context.Context, videoPath, audioPath, outPath string) error

// Options tunes upload behavior.
type Options struct {
	// CredentialsFile is a service-account or OAuth token file.
	CredentialsFile string
	// Privacy is the visibility of the published video.
	Privacy string
	// PublishDelay schedules private uploads to go public after this
	// delay. Zero publishes immediately with the configured privacy.
	PublishDelay time.Duration
}

// Uploader implements the upload stage capability.
type Uploader struct {
	opts Options
	mux  MuxFunc
	now  func() time.Time

	// newService is swapped in tests.
	newService func(ctx context.Context) (*youtube.Service, error)
}

// NewUploader creates an uploader. The credentials file must exist; a
// missing file is a configuration error, not a transient one.
func NewUploader(opts Options, mux MuxFunc) (*Uploader, error) {
	if opts.CredentialsFile == "" {
		return nil, fmt.Errorf("youtube credentials file is required")
	}
	if _, err := os.Stat(opts.CredentialsFile); err != nil {
		return nil, fmt.Errorf("youtube credentials file: %w", err)
	}
	if mux == nil {
		return nil, fmt.Errorf("mux function is required")
	}
	if opts.Privacy == "" {
		opts.Privacy = "private"
	}
	u := &Uploader{opts: opts, mux: mux, now: time.Now}
	u.newService = func(ctx context.Context) (*youtube.Service, error) {
		return youtube.NewService(ctx, option.WithCredentialsFile(opts.CredentialsFile))
	}
	return u, nil
}

// Name identifies the stage.
func (u *Uploader) Name() string { return types.StageUpload }

// Run muxes the rendered clip with the audio track and uploads the result.
func (u *Uploader) Run(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	idea, err := in.PriorIdea()
	if err != nil {
		return nil, err
	}
	videoOut, err := in.PriorOutput(types.StageVideo)
	if err != nil {
		return nil, err
	}
	audioOut, err := in.PriorOutput(types.StageAudio)
	if err != nil {
		return nil, err
	}

	finalPath := filepath.Join(in.WorkDir, "final.mp4")
	if err := u.mux(ctx, videoOut.ArtifactRef, audioOut.ArtifactRef, finalPath); err != nil {
		return nil, err
	}

	svc, err := u.newService(ctx)
	if err != nil {
		return nil, provider.Fatal(types.StageUpload, "failed to create youtube client", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       TruncateTitle(idea.Title),
			Description: idea.Description,
			Tags:        idea.Keywords,
			CategoryId:  shortsCategory,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: u.opts.Privacy,
		},
	}
	if at := u.publishAt(); at != "" {
		video.Status.PublishAt = at
	}

	f, err := os.Open(finalPath)
	if err != nil {
		return nil, provider.Retryable(types.StageUpload, "failed to open composite", err)
	}
	defer f.Close()

	call := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f)
	uploaded, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError(err)
	}

	result := &provider.UploadResult{
		VideoID: uploaded.Id,
		URL:     fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id),
	}
	return &provider.Output{ArtifactRef: result.URL, Payload: result}, nil
}

// publishAt schedules delayed publication: only private uploads with a
// configured delay get a publish time, everything else publishes with its
// privacy setting immediately.
func (u *Uploader) publishAt() string {
	if u.opts.Privacy != "private" || u.opts.PublishDelay <= 0 {
		return ""
	}
	return u.now().Add(u.opts.PublishDelay).UTC().Format(time.RFC3339)
}

// TruncateTitle enforces YouTube's title length limit on a rune boundary.
func TruncateTitle(title string) string {
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) <= maxTitleLen {
		return title
	}
	return string(runes[:maxTitleLen-1]) + "…"
}

// classifyAPIError maps YouTube API failures onto the retry taxonomy:
// auth problems are fatal, quota and server errors are worth retrying.
func classifyAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return provider.Fatal(types.StageUpload, "authentication rejected", err)
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return provider.Retryable(types.StageUpload, "youtube unavailable", err)
		default:
			return provider.Fatal(types.StageUpload, "upload rejected", err)
		}
	}
	return provider.Retryable(types.StageUpload, "upload failed", err)
}
