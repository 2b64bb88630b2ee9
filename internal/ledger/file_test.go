package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoney2759/autotube/internal/types"
)

func newRecord(theme types.Theme, status string, createdAt time.Time) *types.RunRecord {
	return &types.RunRecord{
		RunID:     uuid.New(),
		Theme:     theme,
		Status:    status,
		CreatedAt: createdAt.UTC(),
	}
}

func TestFile_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	ctx := context.Background()

	l, err := OpenFile(path)
	require.NoError(t, err)

	rec := newRecord("travel", types.RunStatusRunning, time.Now())
	require.NoError(t, l.Append(ctx, rec))

	rec.Status = types.RunStatusSucceeded
	rec.FinalArtifactRef = "https://example.com/watch?v=abc"
	require.NoError(t, l.Append(ctx, rec))
	require.NoError(t, l.Close())

	// Reopen: replay must fold both lines into one latest snapshot.
	l, err = OpenFile(path)
	require.NoError(t, err)
	defer l.Close()

	ok, err := l.HasRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.True(t, ok)

	recs, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.RunStatusSucceeded, recs[0].Status)
	assert.Equal(t, "https://example.com/watch?v=abc", recs[0].FinalArtifactRef)
}

func TestFile_ReplayToleratesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	ctx := context.Background()

	l, err := OpenFile(path)
	require.NoError(t, err)
	rec := newRecord("tech", types.RunStatusSucceeded, time.Now())
	require.NoError(t, l.Append(ctx, rec))
	require.NoError(t, l.Close())

	// Simulate a crash mid-write: a truncated JSON fragment at the tail.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"run_id":"bf3c`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err = OpenFile(path)
	require.NoError(t, err)
	defer l.Close()

	recs, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.RunID, recs[0].RunID)

	// The ledger stays writable after recovery.
	require.NoError(t, l.Append(ctx, newRecord("cooking", types.RunStatusSucceeded, time.Now())))
	recs, err = l.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestFile_CountForDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	ctx := context.Background()

	l, err := OpenFile(path)
	require.NoError(t, err)
	defer l.Close()

	day := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(ctx, newRecord("travel", types.RunStatusSucceeded, day)))
	require.NoError(t, l.Append(ctx, newRecord("tech", types.RunStatusRunning, day)))
	require.NoError(t, l.Append(ctx, newRecord("cooking", types.RunStatusFailed, day)))
	require.NoError(t, l.Append(ctx, newRecord("fitness", types.RunStatusSucceeded, day.AddDate(0, 0, -1))))

	// Failed runs and other days do not consume quota.
	count, err := l.CountForDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFile_ReconcileOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	ctx := context.Background()

	l, err := OpenFile(path)
	require.NoError(t, err)
	stuck := newRecord("travel", types.RunStatusRunning, time.Now())
	done := newRecord("tech", types.RunStatusSucceeded, time.Now())
	require.NoError(t, l.Append(ctx, stuck))
	require.NoError(t, l.Append(ctx, done))
	require.NoError(t, l.Close())

	l, err = OpenFile(path)
	require.NoError(t, err)
	defer l.Close()

	n, err := l.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		if rec.RunID == stuck.RunID {
			assert.Equal(t, types.RunStatusFailed, rec.Status)
			assert.Equal(t, types.ErrorDetailInterrupted, rec.ErrorDetail)
			assert.NotNil(t, rec.CompletedAt)
		}
	}

	// Idempotent: a second reconcile finds nothing running.
	n, err = l.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFile_RecentThemesNewestFirstDistinct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	ctx := context.Background()

	l, err := OpenFile(path)
	require.NoError(t, err)
	defer l.Close()

	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(ctx, newRecord("travel", types.RunStatusSucceeded, base)))
	require.NoError(t, l.Append(ctx, newRecord("tech", types.RunStatusSucceeded, base.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, newRecord("tech", types.RunStatusSucceeded, base.Add(2*time.Hour))))
	require.NoError(t, l.Append(ctx, newRecord("cooking", types.RunStatusSucceeded, base.Add(3*time.Hour))))

	themes, err := l.RecentThemes(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []types.Theme{"cooking", "tech"}, themes)
}

func TestFile_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.jsonl")
	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
