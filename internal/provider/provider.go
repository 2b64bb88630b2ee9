// Package provider defines the capability contract implemented by every
// pipeline stage adapter, and the error taxonomy the engine uses to decide
// whether a failed attempt is worth retrying.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/stoney2759/autotube/internal/types"
)

// Stage is the narrow capability every stage provider exposes. Run is a
// blocking call against an external service; implementations honor ctx
// cancellation and deadlines.
type Stage interface {
	Name() string
	Run(ctx context.Context, in *Input) (*Output, error)
}

// Input carries everything a stage may consume: the originating request, a
// per-run scratch directory, and the outputs of all prior successful stages
// keyed by stage name.
type Input struct {
	Request types.RunRequest
	WorkDir string
	Prior   map[string]*Output
}

// Output is a stage's product: an opaque artifact reference (path, URI, or
// platform ID) plus an optional stage-specific payload for the next stage.
type Output struct {
	ArtifactRef string
	Payload     any
}

// Idea is the payload produced by the idea stage and consumed by the image,
// audio, and upload stages.
type Idea struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Theme        string   `json:"theme"`
	Mood         string   `json:"mood"`
	Keywords     []string `json:"keywords"`
	ImagePrompts []string `json:"image_prompts"`
}

// UploadResult is the payload produced by the upload stage.
type UploadResult struct {
	VideoID string `json:"video_id"`
	URL     string `json:"url"`
}

// Error is a classified stage provider failure. The engine retries attempts
// that fail with a retryable Error and gives up immediately on
// non-retryable ones (bad credentials, malformed configuration).
type Error struct {
	Stage     string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s provider: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s provider: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable wraps a transient failure.
func Retryable(stage, message string, cause error) *Error {
	return &Error{Stage: stage, Message: message, Retryable: true, Cause: cause}
}

// Fatal wraps a failure that further attempts cannot fix.
func Fatal(stage, message string, cause error) *Error {
	return &Error{Stage: stage, Message: message, Retryable: false, Cause: cause}
}

// IsRetryable classifies an arbitrary error from a stage attempt. Errors
// that do not carry a provider classification are treated as transient,
// since external services fail in ways their adapters cannot always
// anticipate.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// Prior fetches a prior stage's output, failing fatally when the pipeline
// wiring is broken (a stage dispatched before its dependency succeeded).
func (in *Input) PriorOutput(stage string) (*Output, error) {
	out, ok := in.Prior[stage]
	if !ok || out == nil {
		return nil, Fatal(stage, fmt.Sprintf("missing required output from %q stage", stage), nil)
	}
	return out, nil
}

// PriorIdea returns the idea payload recorded by the idea stage.
func (in *Input) PriorIdea() (*Idea, error) {
	out, err := in.PriorOutput(types.StageIdea)
	if err != nil {
		return nil, err
	}
	idea, ok := out.Payload.(*Idea)
	if !ok {
		return nil, Fatal(types.StageIdea, "idea stage produced an unexpected payload type", nil)
	}
	return idea, nil
}

// PriorImagePaths returns the image artifact paths recorded by the image stage.
func (in *Input) PriorImagePaths() ([]string, error) {
	out, err := in.PriorOutput(types.StageImages)
	if err != nil {
		return nil, err
	}
	paths, ok := out.Payload.([]string)
	if !ok || len(paths) == 0 {
		return nil, Fatal(types.StageImages, "image stage produced no usable artifacts", nil)
	}
	return paths, nil
}
