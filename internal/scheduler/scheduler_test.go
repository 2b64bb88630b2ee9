package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoney2759/autotube/internal/ledger"
	"github.com/stoney2759/autotube/internal/types"
)

// recordingDispatcher captures dispatched requests and writes terminal
// records into the ledger like the real engine does.
type recordingDispatcher struct {
	mu     sync.Mutex
	ledger ledger.Ledger
	reqs   []types.RunRequest
	block  chan struct{}
}

func (d *recordingDispatcher) Execute(ctx context.Context, req types.RunRequest) (*types.RunRecord, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()

	if d.block != nil {
		<-d.block
	}

	// Stamp with the request time so tests driving a fake clock see
	// consistent quota days.
	created := req.RequestedAt
	rec := &types.RunRecord{
		RunID:       req.RunID,
		Theme:       req.Theme,
		Status:      types.RunStatusSucceeded,
		CreatedAt:   created,
		CompletedAt: &created,
	}
	if d.ledger != nil {
		if err := d.ledger.Append(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (d *recordingDispatcher) dispatched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

func newTestScheduler(t *testing.T, state State) (*Scheduler, *recordingDispatcher, *ledger.Memory) {
	t.Helper()
	mem := ledger.NewMemory()
	disp := &recordingDispatcher{ledger: mem}
	if state.Interval == 0 {
		state.Interval = time.Hour
	}
	if state.Themes == nil {
		state.Themes = []types.Theme{"travel", "tech", "cooking", "fitness"}
	}
	state.AutoStart = true
	s, err := New(disp, mem, state, nil)
	require.NoError(t, err)
	return s, disp, mem
}

func TestTick_DeniedUntilIntervalElapses(t *testing.T) {
	s, disp, _ := newTestScheduler(t, State{Interval: 60 * time.Minute})

	clock := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	// First tick dispatches.
	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, disp.dispatched())

	// Ten minutes later the interval clause denies.
	clock = clock.Add(10 * time.Minute)
	_, err = s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTooSoon)
	assert.Equal(t, 1, disp.dispatched())

	// Sixty minutes after the first run it dispatches again.
	clock = clock.Add(50 * time.Minute)
	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, disp.dispatched())
}

func TestTick_DailyQuotaEnforced(t *testing.T) {
	s, disp, _ := newTestScheduler(t, State{Interval: time.Minute, MaxPerDay: 2})

	clock := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		_, err := s.Tick(context.Background())
		require.NoError(t, err)
		clock = clock.Add(time.Minute)
	}
	assert.Equal(t, 2, disp.dispatched())

	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 2, disp.dispatched())

	// The quota resets with the UTC day.
	clock = time.Date(2026, 9, 1, 0, 1, 0, 0, time.UTC)
	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, disp.dispatched())
}

func TestTick_FailedRunsDoNotConsumeQuota(t *testing.T) {
	mem := ledger.NewMemory()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		rec := &types.RunRecord{
			RunID:       types.NewRunRequest("travel").RunID,
			Theme:       "travel",
			Status:      types.RunStatusFailed,
			CreatedAt:   now,
			CompletedAt: &now,
		}
		require.NoError(t, mem.Append(context.Background(), rec))
	}

	disp := &recordingDispatcher{ledger: mem}
	s, err := New(disp, mem, State{
		Interval:  time.Minute,
		MaxPerDay: 2,
		AutoStart: true,
		Themes:    []types.Theme{"travel"},
	}, nil)
	require.NoError(t, err)

	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, disp.dispatched())
}

func TestTriggerRun_BypassesIntervalButNotQuota(t *testing.T) {
	s, disp, _ := newTestScheduler(t, State{Interval: time.Hour, MaxPerDay: 2})

	clock := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_, err := s.Tick(context.Background())
	require.NoError(t, err)

	// Interval has not elapsed, but a manual trigger goes through.
	clock = clock.Add(time.Minute)
	id, err := s.TriggerRun(context.Background(), "tech")
	require.NoError(t, err)
	s.Wait()
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", id.String())
	assert.Equal(t, 2, disp.dispatched())

	// The cap still binds manual triggers.
	clock = clock.Add(time.Minute)
	_, err = s.TriggerRun(context.Background(), "tech")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestTriggerRun_DeniedWhileRunInFlight(t *testing.T) {
	mem := ledger.NewMemory()
	disp := &recordingDispatcher{ledger: mem, block: make(chan struct{})}
	s, err := New(disp, mem, State{
		Interval:  time.Hour,
		AutoStart: true,
		Themes:    []types.Theme{"travel"},
	}, nil)
	require.NoError(t, err)

	_, err = s.TriggerRun(context.Background(), "travel")
	require.NoError(t, err)

	// Wait for the dispatcher to pick up the run.
	require.Eventually(t, func() bool { return disp.dispatched() == 1 }, time.Second, time.Millisecond)

	_, err = s.TriggerRun(context.Background(), "travel")
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(disp.block)
	s.Wait()
}

func TestTick_DeniedWhilePaused(t *testing.T) {
	s, disp, _ := newTestScheduler(t, State{Interval: time.Minute})
	s.Pause()

	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrPaused)
	assert.Zero(t, disp.dispatched())

	// Manual triggers ignore the paused flag.
	_, err = s.RunOnce(context.Background(), "travel")
	require.NoError(t, err)
	assert.Equal(t, 1, disp.dispatched())

	s.Resume()
	_, err = s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTooSoon)
}

func TestThemeRotation_AvoidsRecentThemes(t *testing.T) {
	s, disp, _ := newTestScheduler(t, State{
		Interval: time.Minute,
		Themes:   []types.Theme{"travel", "tech"},
	})

	clock := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	rec1, err := s.Tick(context.Background())
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	rec2, err := s.Tick(context.Background())
	require.NoError(t, err)

	// With two themes and memory one, consecutive runs must alternate.
	assert.NotEqual(t, rec1.Theme, rec2.Theme)
	assert.Equal(t, 2, disp.dispatched())
}

func TestRunOnce_ExplicitThemeWins(t *testing.T) {
	s, disp, _ := newTestScheduler(t, State{Interval: time.Minute})

	rec, err := s.RunOnce(context.Background(), "cooking")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.Theme("cooking"), rec.Theme)
	assert.Equal(t, 1, disp.dispatched())
}

func TestNew_RejectsMisconfiguration(t *testing.T) {
	mem := ledger.NewMemory()
	disp := &recordingDispatcher{}

	_, err := New(nil, mem, State{Interval: time.Minute}, nil)
	assert.Error(t, err)

	_, err = New(disp, nil, State{Interval: time.Minute}, nil)
	assert.Error(t, err)

	_, err = New(disp, mem, State{}, nil)
	assert.Error(t, err)
}
