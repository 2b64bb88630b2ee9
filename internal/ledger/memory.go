package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoney2759/autotube/internal/types"
)

// Memory is an in-process ledger for tests and ephemeral runs. It keeps the
// full snapshot history to preserve append-only semantics but answers
// queries from the latest snapshot per run.
type Memory struct {
	mu        sync.Mutex
	snapshots []types.RunRecord
	latest    map[uuid.UUID]int // index into snapshots
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{latest: make(map[uuid.UUID]int)}
}

// Append records a snapshot.
func (m *Memory) Append(_ context.Context, rec *types.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := *rec
	snap.Stages = append([]types.StageResult(nil), rec.Stages...)
	m.snapshots = append(m.snapshots, snap)
	m.latest[rec.RunID] = len(m.snapshots) - 1
	return nil
}

// HasRun reports whether any snapshot exists for the run ID.
func (m *Memory) HasRun(_ context.Context, runID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.latest[runID]
	return ok, nil
}

// CountForDay counts quota-consuming runs created on the given UTC day.
func (m *Memory) CountForDay(_ context.Context, day time.Time) (int, error) {
	day = types.DayBucket(day)
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.latestRecords() {
		if countsTowardQuota(rec.Status) && types.DayBucket(rec.CreatedAt).Equal(day) {
			count++
		}
	}
	return count, nil
}

// RecentThemes returns up to limit distinct themes, newest run first.
func (m *Memory) RecentThemes(_ context.Context, limit int) ([]types.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.latestRecords()
	sortNewestFirst(recs)
	return distinctThemes(recs, limit), nil
}

// Recent returns the latest snapshot of up to limit runs, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]types.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.latestRecords()
	sortNewestFirst(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// ReconcileOnStartup converts runs left running into failed("interrupted").
func (m *Memory) ReconcileOnStartup(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.latestRecords() {
		if rec.Status != types.RunStatusRunning {
			continue
		}
		fixed := interrupted(rec)
		m.snapshots = append(m.snapshots, fixed)
		m.latest[fixed.RunID] = len(m.snapshots) - 1
		count++
	}
	return count, nil
}

// Close is a no-op for the in-memory ledger.
func (m *Memory) Close() error { return nil }

// SnapshotCount reports how many snapshots were appended. Test helper.
func (m *Memory) SnapshotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// SnapshotsFor returns every appended snapshot for a run, oldest first.
// Test helper.
func (m *Memory) SnapshotsFor(runID uuid.UUID) []types.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.RunRecord
	for _, snap := range m.snapshots {
		if snap.RunID == runID {
			out = append(out, snap)
		}
	}
	return out
}

// latestRecords copies the latest snapshot of every run. Caller holds mu.
func (m *Memory) latestRecords() []types.RunRecord {
	recs := make([]types.RunRecord, 0, len(m.latest))
	for _, idx := range m.latest {
		recs = append(recs, m.snapshots[idx])
	}
	return recs
}
