// Package types provides type definitions for structured data used throughout the autotube system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// Theme selects a content category for a run ("travel", "tech", ...).
type Theme = string

// Stage name constants for the fixed pipeline order.
const (
	StageIdea   = "idea"
	StageImages = "images"
	StageVideo  = "video"
	StageAudio  = "audio"
	StageUpload = "upload"
)

// StageOrder is the fixed execution order of the pipeline.
var StageOrder = []string{StageIdea, StageImages, StageVideo, StageAudio, StageUpload}

// RunStatus values for a RunRecord. Transitions are monotonic:
// pending -> running -> one of the terminal states.
const (
	RunStatusPending         = "pending"
	RunStatusRunning         = "running"
	RunStatusSucceeded       = "succeeded"
	RunStatusFailed          = "failed"
	RunStatusPartiallyFailed = "partially_failed"
)

// StageStatus values for a StageResult.
const (
	StageStatusSuccess = "success"
	StageStatusFailed  = "failed"
	StageStatusSkipped = "skipped"
)

// ErrorDetailInterrupted marks runs left running by a crashed process.
const ErrorDetailInterrupted = "interrupted"

// ErrorDetailCancelled marks stages failed by cooperative cancellation.
const ErrorDetailCancelled = "cancelled"

// RunRequest authorizes exactly one pipeline execution. Immutable once created.
type RunRequest struct {
	RunID       uuid.UUID `json:"run_id"`
	Theme       Theme     `json:"theme"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewRunRequest creates a request with a fresh run ID.
func NewRunRequest(theme Theme) RunRequest {
	return RunRequest{
		RunID:       uuid.New(),
		Theme:       theme,
		RequestedAt: time.Now().UTC(),
	}
}

// StageResult records one stage's outcome within a run. Appended as stages
// execute and never mutated afterward.
type StageResult struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	// AttemptCount is the number of provider calls actually made. 0 means
	// the stage was reached but never attempted, e.g. cancelled first.
	AttemptCount int        `json:"attempt_count"`
	ArtifactRef  string     `json:"artifact_ref,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunRecord is the full history of one pipeline run. Owned by the engine
// while the run executes; read-only once handed to the ledger.
type RunRecord struct {
	RunID            uuid.UUID     `json:"run_id"`
	Theme            Theme         `json:"theme"`
	Status           string        `json:"status"`
	Stages           []StageResult `json:"stages,omitempty"`
	FinalArtifactRef string        `json:"final_artifact_ref,omitempty"`
	ErrorDetail      string        `json:"error_detail,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Terminal reports whether the record has reached a terminal status.
func (r *RunRecord) Terminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusPartiallyFailed:
		return true
	}
	return false
}

// StageResultFor returns the result for a stage name, or nil if the stage
// has not been recorded yet.
func (r *RunRecord) StageResultFor(stage string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == stage {
			return &r.Stages[i]
		}
	}
	return nil
}

// DayBucket truncates a timestamp to its UTC day, the unit of quota
// accounting.
func DayBucket(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
