// Package scheduler decides when a new pipeline run may start. On every
// tick it checks the daily cap and the configured interval against the run
// ledger, picks a theme that was not used recently, and hands a RunRequest
// to the engine. At most one run is in flight per scheduler; a tick that
// arrives mid-run is deferred, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stoney2759/autotube/internal/ledger"
	"github.com/stoney2759/autotube/internal/types"
)

// Deny reasons. None of these are failures; a denied tick is a normal
// transition logged at low severity.
var (
	ErrQuotaExceeded = errors.New("daily run quota exceeded")
	ErrTooSoon       = errors.New("interval since last run has not elapsed")
	ErrRunInFlight   = errors.New("a run is already in flight")
	ErrPaused        = errors.New("scheduler is paused")
)

// Dispatcher executes one authorized run request. Implemented by the
// pipeline engine.
type Dispatcher interface {
	Execute(ctx context.Context, req types.RunRequest) (*types.RunRecord, error)
}

// State is the process-wide schedule configuration, injected at
// construction and mutated only through scheduler methods.
type State struct {
	// Interval between authorized dispatches, and the tick period.
	Interval time.Duration
	// MaxPerDay caps runs per UTC day. Non-positive disables the cap.
	MaxPerDay int
	// AutoStart controls whether ticking begins immediately or waits for
	// Resume.
	AutoStart bool
	// Themes is the configured rotation list.
	Themes []types.Theme
	// ThemeMemory is how many recent themes are excluded from selection.
	// Non-positive defaults to one less than the theme list length.
	ThemeMemory int
}

// Scheduler owns the tick loop and quota policy.
type Scheduler struct {
	state  State
	engine Dispatcher
	ledger ledger.Ledger
	log    *zap.Logger

	now  func() time.Time
	rand *rand.Rand

	mu        sync.Mutex
	lastRunAt time.Time
	inFlight  bool
	paused    bool

	wg sync.WaitGroup
}

// New constructs a scheduler. The returned scheduler is paused unless
// state.AutoStart is set.
func New(engine Dispatcher, lg ledger.Ledger, state State, log *zap.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("scheduler requires a dispatcher")
	}
	if lg == nil {
		return nil, fmt.Errorf("scheduler requires a ledger")
	}
	if state.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		state:  state,
		engine: engine,
		ledger: lg,
		log:    log.Named("scheduler"),
		now:    time.Now,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		paused: !state.AutoStart,
	}, nil
}

// Run ticks until ctx is done. Each authorized tick executes its run
// synchronously, so a slow run naturally defers later ticks.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.state.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.state.Interval),
		zap.Int("max_per_day", s.state.MaxPerDay),
		zap.Bool("auto_start", s.state.AutoStart))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.log.Debug("tick denied", zap.String("reason", err.Error()))
			}
		}
	}
}

// Tick evaluates one scheduling decision. On authorization it executes a
// run and returns its terminal record; otherwise it returns the deny
// reason.
func (s *Scheduler) Tick(ctx context.Context) (*types.RunRecord, error) {
	req, err := s.authorize(ctx, "", false)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, req), nil
}

// TriggerRun starts a run immediately, bypassing the interval clause but
// not the daily cap. An empty theme selects one automatically. The run
// executes on its own goroutine; the returned ID identifies it in the
// ledger and event stream.
func (s *Scheduler) TriggerRun(ctx context.Context, theme types.Theme) (uuid.UUID, error) {
	req, err := s.authorize(ctx, theme, true)
	if err != nil {
		return uuid.Nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, req)
	}()
	return req.RunID, nil
}

// RunOnce starts a run immediately and waits for its terminal record. Used
// by the one-shot CLI mode. Bypasses the interval clause but not the cap.
func (s *Scheduler) RunOnce(ctx context.Context, theme types.Theme) (*types.RunRecord, error) {
	req, err := s.authorize(ctx, theme, true)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, req), nil
}

// Pause suspends ticking. Runs already in flight finish normally.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.log.Info("scheduler paused")
}

// Resume re-enables ticking.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Info("scheduler resumed")
}

// Paused reports whether ticking is suspended.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Wait blocks until all triggered runs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// authorize applies the admission rules and, if the run may start, reserves
// the in-flight slot and constructs the request. manual bypasses the paused
// flag and the interval clause.
func (s *Scheduler) authorize(ctx context.Context, theme types.Theme, manual bool) (types.RunRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return types.RunRequest{}, ErrRunInFlight
	}
	if !manual {
		if s.paused {
			return types.RunRequest{}, ErrPaused
		}
		if elapsed := s.now().Sub(s.lastRunAt); !s.lastRunAt.IsZero() && elapsed < s.state.Interval {
			return types.RunRequest{}, fmt.Errorf("%w: %s since last run", ErrTooSoon, elapsed.Round(time.Second))
		}
	}

	if s.state.MaxPerDay > 0 {
		count, err := s.ledger.CountForDay(ctx, s.now())
		if err != nil {
			return types.RunRequest{}, fmt.Errorf("failed to check daily quota: %w", err)
		}
		if count >= s.state.MaxPerDay {
			return types.RunRequest{}, fmt.Errorf("%w: %d/%d today", ErrQuotaExceeded, count, s.state.MaxPerDay)
		}
	}

	if theme == "" {
		theme = s.pickThemeLocked(ctx)
	}

	s.inFlight = true
	s.lastRunAt = s.now()

	req := types.RunRequest{RunID: uuid.New(), Theme: theme, RequestedAt: s.now().UTC()}
	return req, nil
}

// execute runs the request and releases the in-flight slot.
func (s *Scheduler) execute(ctx context.Context, req types.RunRequest) *types.RunRecord {
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	rec, err := s.engine.Execute(ctx, req)
	if err != nil {
		// Only duplicate-run is possible here and the scheduler never
		// reuses an ID; log and move on.
		s.log.Error("dispatch rejected", zap.String("run_id", req.RunID.String()), zap.Error(err))
		return nil
	}
	return rec
}

// pickThemeLocked selects the next theme: configured list minus the
// recently used ones, uniform random fallback when every theme was recent.
// Caller holds mu.
func (s *Scheduler) pickThemeLocked(ctx context.Context) types.Theme {
	themes := s.state.Themes
	if len(themes) == 0 {
		return ""
	}
	if len(themes) == 1 {
		return themes[0]
	}

	memory := s.state.ThemeMemory
	if memory <= 0 || memory >= len(themes) {
		memory = len(themes) - 1
	}

	recent, err := s.ledger.RecentThemes(ctx, memory)
	if err != nil {
		s.log.Warn("recent theme lookup failed, picking at random", zap.Error(err))
		return themes[s.rand.Intn(len(themes))]
	}

	used := make(map[types.Theme]bool, len(recent))
	for _, t := range recent {
		used[t] = true
	}

	var candidates []types.Theme
	for _, t := range themes {
		if !used[t] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return themes[s.rand.Intn(len(themes))]
	}
	return candidates[s.rand.Intn(len(candidates))]
}
