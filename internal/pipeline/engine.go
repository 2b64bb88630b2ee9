// Package pipeline provides the high-level orchestration for one content
// generation run: sequential stage execution with per-stage retry policy,
// ledger persistence, and progress events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stoney2759/autotube/internal/ledger"
	"github.com/stoney2759/autotube/internal/observer"
	"github.com/stoney2759/autotube/internal/provider"
	"github.com/stoney2759/autotube/internal/types"
)

// ErrDuplicateRun is returned when a run ID is executed a second time.
// Retries happen inside stage execution, never at the run level.
var ErrDuplicateRun = errors.New("duplicate run")

// Options tunes retry and timeout behavior. Zero values fall back to the
// defaults below.
type Options struct {
	// RetryAttempts is the per-stage attempt budget.
	RetryAttempts int
	// RetryDelay is the base delay between attempts; the wait grows
	// linearly (delay, 2*delay, ...).
	RetryDelay time.Duration
	// StageTimeout bounds a single stage attempt. Zero disables the bound.
	StageTimeout time.Duration
	// WorkDir is the root under which per-run scratch directories are
	// created.
	WorkDir string
}

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 2 * time.Second
)

// Engine executes runs through a fixed, ordered stage list. All stage
// failures are captured into the RunRecord; the only error Execute returns
// is ErrDuplicateRun.
type Engine struct {
	stages []provider.Stage
	ledger ledger.Ledger
	bus    *observer.Bus
	log    *zap.Logger
	opts   Options

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool
}

// NewEngine wires an engine. Misconfiguration (no stages, duplicate stage
// names, no ledger) fails fast here; nothing fails fast later.
func NewEngine(stages []provider.Stage, lg ledger.Ledger, bus *observer.Bus, log *zap.Logger, opts Options) (*Engine, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("engine requires at least one stage")
	}
	seen := make(map[string]bool)
	for _, st := range stages {
		if st == nil || st.Name() == "" {
			return nil, fmt.Errorf("engine received a nil or unnamed stage")
		}
		if seen[st.Name()] {
			return nil, fmt.Errorf("duplicate stage name %q", st.Name())
		}
		seen[st.Name()] = true
	}
	if lg == nil {
		return nil, fmt.Errorf("engine requires a ledger")
	}
	if bus == nil {
		bus = observer.NewBus()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	return &Engine{
		stages:   stages,
		ledger:   lg,
		bus:      bus,
		log:      log.Named("engine"),
		opts:     opts,
		inFlight: make(map[uuid.UUID]bool),
	}, nil
}

// Execute runs the request through every stage in order and returns the
// terminal RunRecord. A stage that exhausts its attempt budget fails the
// run and marks all downstream stages skipped. Cancellation is honored
// between attempts, never mid-call.
func (e *Engine) Execute(ctx context.Context, req types.RunRequest) (*types.RunRecord, error) {
	if err := e.claim(ctx, req.RunID); err != nil {
		return nil, err
	}
	defer e.release(req.RunID)

	rec := &types.RunRecord{
		RunID:     req.RunID,
		Theme:     req.Theme,
		Status:    types.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}

	e.log.Info("run started",
		zap.String("run_id", req.RunID.String()),
		zap.String("theme", req.Theme))

	// The run must be durably visible before any provider is called;
	// an unrecorded run would corrupt quota accounting.
	if err := e.ledger.Append(ctx, rec); err != nil {
		e.log.Error("initial ledger write failed", zap.Error(err))
		return e.finishLedgerFailure(rec, err), nil
	}

	e.publish(observer.Event{RunID: req.RunID, Kind: observer.KindRunStarted, Detail: "theme: " + req.Theme})

	workDir := filepath.Join(e.opts.WorkDir, req.RunID.String())
	if e.opts.WorkDir != "" {
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			// Treated like a stage environment fault: the run fails
			// without calling any provider.
			rec.ErrorDetail = fmt.Sprintf("failed to create work directory: %v", err)
			return e.finish(ctx, rec, types.RunStatusFailed), nil
		}
	}

	in := &provider.Input{
		Request: req,
		WorkDir: workDir,
		Prior:   make(map[string]*provider.Output),
	}

	var failedStage string
	for _, st := range e.stages {
		if failedStage != "" {
			rec.Stages = append(rec.Stages, skippedResult(st.Name()))
			e.publish(observer.Event{RunID: req.RunID, Stage: st.Name(), Kind: observer.KindStageSkipped,
				Detail: "upstream stage failed: " + failedStage})
			continue
		}

		res, out := e.runStage(ctx, st, in)
		rec.Stages = append(rec.Stages, res)

		if res.Status == types.StageStatusSuccess {
			in.Prior[st.Name()] = out
			continue
		}

		failedStage = st.Name()
		if res.ErrorDetail == types.ErrorDetailCancelled {
			rec.ErrorDetail = types.ErrorDetailCancelled
		}
	}

	status := e.terminalStatus(rec, failedStage)
	if out, ok := in.Prior[types.StageUpload]; ok {
		rec.FinalArtifactRef = out.ArtifactRef
	} else if out, ok := in.Prior[types.StageVideo]; ok {
		rec.FinalArtifactRef = out.ArtifactRef
	}

	return e.finish(ctx, rec, status), nil
}

// claim reserves a run ID, rejecting IDs already running or already in the
// ledger.
func (e *Engine) claim(ctx context.Context, runID uuid.UUID) error {
	e.mu.Lock()
	if e.inFlight[runID] {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}
	e.inFlight[runID] = true
	e.mu.Unlock()

	seen, err := e.ledger.HasRun(ctx, runID)
	if err != nil {
		e.release(runID)
		return fmt.Errorf("failed to check ledger for run %s: %w", runID, err)
	}
	if seen {
		e.release(runID)
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}
	return nil
}

func (e *Engine) release(runID uuid.UUID) {
	e.mu.Lock()
	delete(e.inFlight, runID)
	e.mu.Unlock()
}

// runStage executes one stage with the retry policy applied. Retryable
// failures are re-attempted with linearly growing delay up to the attempt
// budget; non-retryable failures stop immediately. Cancellation is checked
// before every attempt and while waiting between attempts.
func (e *Engine) runStage(ctx context.Context, st provider.Stage, in *provider.Input) (types.StageResult, *provider.Output) {
	name := st.Name()
	res := types.StageResult{Stage: name, StartedAt: time.Now().UTC()}

	e.publish(observer.Event{RunID: in.Request.RunID, Stage: name, Kind: observer.KindStageStarted})
	e.log.Info("stage started", zap.String("run_id", in.Request.RunID.String()), zap.String("stage", name))

	var lastErr error
	for attempt := 1; attempt <= e.opts.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return e.failStage(res, in, types.ErrorDetailCancelled)
		}
		res.AttemptCount = attempt

		out, err := e.attempt(ctx, st, in)
		if err == nil {
			finished := time.Now().UTC()
			res.Status = types.StageStatusSuccess
			res.FinishedAt = &finished
			if out != nil {
				res.ArtifactRef = out.ArtifactRef
			}
			e.publish(observer.Event{RunID: in.Request.RunID, Stage: name, Kind: observer.KindStageSucceeded,
				Detail: res.ArtifactRef})
			return res, out
		}
		lastErr = err

		if ctx.Err() != nil {
			return e.failStage(res, in, types.ErrorDetailCancelled)
		}
		if !provider.IsRetryable(err) {
			e.log.Warn("stage failed (non-retryable)",
				zap.String("stage", name), zap.Error(err))
			break
		}
		if attempt < e.opts.RetryAttempts {
			delay := e.opts.RetryDelay * time.Duration(attempt)
			e.publish(observer.Event{RunID: in.Request.RunID, Stage: name, Kind: observer.KindStageRetrying,
				Detail: fmt.Sprintf("attempt %d/%d failed: %v", attempt, e.opts.RetryAttempts, err)})
			e.log.Warn("stage attempt failed, retrying",
				zap.String("stage", name), zap.Int("attempt", attempt),
				zap.Duration("delay", delay), zap.Error(err))
			if !sleepCtx(ctx, delay) {
				return e.failStage(res, in, types.ErrorDetailCancelled)
			}
		}
	}

	return e.failStage(res, in, lastErr.Error())
}

// attempt makes one provider call, bounded by the stage timeout.
func (e *Engine) attempt(ctx context.Context, st provider.Stage, in *provider.Input) (*provider.Output, error) {
	attemptCtx := ctx
	if e.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.opts.StageTimeout)
		defer cancel()
	}
	out, err := st.Run(attemptCtx, in)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// A timed-out attempt is a transient fault against the budget.
		return nil, provider.Retryable(st.Name(), "attempt timed out", err)
	}
	return out, err
}

func (e *Engine) failStage(res types.StageResult, in *provider.Input, detail string) (types.StageResult, *provider.Output) {
	finished := time.Now().UTC()
	res.Status = types.StageStatusFailed
	res.ErrorDetail = detail
	res.FinishedAt = &finished
	e.publish(observer.Event{RunID: in.Request.RunID, Stage: res.Stage, Kind: observer.KindStageFailed, Detail: detail})
	return res, nil
}

// terminalStatus maps the stage outcomes to a run status. A failure in the
// final (upload) stage with every generation stage succeeded leaves a
// usable artifact behind, recorded as partially failed; any earlier failure
// fails the run outright.
func (e *Engine) terminalStatus(rec *types.RunRecord, failedStage string) string {
	if failedStage == "" {
		return types.RunStatusSucceeded
	}
	last := e.stages[len(e.stages)-1].Name()
	if failedStage == last && last == types.StageUpload && rec.ErrorDetail != types.ErrorDetailCancelled {
		return types.RunStatusPartiallyFailed
	}
	return types.RunStatusFailed
}

// finish appends the terminal snapshot and emits the run-level event. A
// terminal ledger write failure downgrades the run to failed: the
// orchestrator does not report success it cannot prove.
func (e *Engine) finish(ctx context.Context, rec *types.RunRecord, status string) *types.RunRecord {
	now := time.Now().UTC()
	rec.Status = status
	rec.CompletedAt = &now

	if err := e.ledger.Append(ctx, rec); err != nil {
		e.log.Error("terminal ledger write failed", zap.Error(err))
		rec.Status = types.RunStatusFailed
		if rec.ErrorDetail == "" {
			rec.ErrorDetail = err.Error()
		}
	}

	kind := observer.KindRunSucceeded
	detail := rec.FinalArtifactRef
	if rec.Status != types.RunStatusSucceeded {
		kind = observer.KindRunFailed
		detail = rec.ErrorDetail
		if detail == "" {
			detail = failureSummary(rec)
		}
	}
	e.publish(observer.Event{RunID: rec.RunID, Kind: kind, Detail: detail})
	e.log.Info("run finished",
		zap.String("run_id", rec.RunID.String()),
		zap.String("status", rec.Status))
	return rec
}

// finishLedgerFailure terminates a run whose initial snapshot could not be
// written. No providers were called and no terminal append is attempted.
func (e *Engine) finishLedgerFailure(rec *types.RunRecord, err error) *types.RunRecord {
	now := time.Now().UTC()
	rec.Status = types.RunStatusFailed
	rec.ErrorDetail = err.Error()
	rec.CompletedAt = &now
	e.publish(observer.Event{RunID: rec.RunID, Kind: observer.KindRunFailed, Detail: rec.ErrorDetail})
	return rec
}

func (e *Engine) publish(ev observer.Event) {
	ev.Timestamp = time.Now().UTC()
	e.bus.Publish(ev)
}

func skippedResult(stage string) types.StageResult {
	now := time.Now().UTC()
	return types.StageResult{
		Stage:      stage,
		Status:     types.StageStatusSkipped,
		StartedAt:  now,
		FinishedAt: &now,
	}
}

func failureSummary(rec *types.RunRecord) string {
	for _, sr := range rec.Stages {
		if sr.Status == types.StageStatusFailed {
			return fmt.Sprintf("stage %s failed: %s", sr.Stage, sr.ErrorDetail)
		}
	}
	return "run failed"
}

// sleepCtx waits for d or until ctx is done, reporting whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
