// Package ledger provides the durable, append-only store of run records.
// The ledger is the source of truth for quota accounting, theme recency,
// and crash recovery: entries are never edited or deleted, only appended,
// and a crash mid-run leaves a running snapshot that ReconcileOnStartup
// converts to a failed one.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stoney2759/autotube/internal/types"
)

// ErrWrite indicates the persistence layer could not durably record a
// snapshot. The engine treats this as fatal to the current run.
var ErrWrite = errors.New("ledger write failed")

// Ledger is the persistence contract shared by the engine and scheduler.
// Implementations serialize writes internally (single-writer discipline) and
// reads observe only fully appended snapshots.
type Ledger interface {
	// Append durably records a run snapshot. Called with the running
	// snapshot at run start and the terminal snapshot at run end.
	Append(ctx context.Context, rec *types.RunRecord) error

	// HasRun reports whether any snapshot exists for the run ID.
	HasRun(ctx context.Context, runID uuid.UUID) (bool, error)

	// CountForDay counts runs created on the given UTC day whose latest
	// status is pending, running, or succeeded. Failed runs do not consume
	// quota.
	CountForDay(ctx context.Context, day time.Time) (int, error)

	// RecentThemes returns up to limit distinct themes from the most
	// recently created runs, newest first.
	RecentThemes(ctx context.Context, limit int) ([]types.Theme, error)

	// Recent returns the latest snapshot of up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]types.RunRecord, error)

	// ReconcileOnStartup marks every run whose latest snapshot is still
	// running as failed with detail "interrupted", appending new snapshots.
	// Returns the number of runs reconciled.
	ReconcileOnStartup(ctx context.Context) (int, error)

	Close() error
}

// countsTowardQuota reports whether a latest-status value consumes daily
// quota.
func countsTowardQuota(status string) bool {
	switch status {
	case types.RunStatusPending, types.RunStatusRunning, types.RunStatusSucceeded:
		return true
	}
	return false
}

// interrupted returns the reconciled form of a record left running by a
// crashed process.
func interrupted(rec types.RunRecord) types.RunRecord {
	now := time.Now().UTC()
	rec.Status = types.RunStatusFailed
	rec.ErrorDetail = types.ErrorDetailInterrupted
	rec.CompletedAt = &now
	return rec
}

// sortNewestFirst orders records by creation time, newest first.
func sortNewestFirst(recs []types.RunRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

// distinctThemes extracts up to limit distinct themes from records already
// ordered newest first.
func distinctThemes(recs []types.RunRecord, limit int) []types.Theme {
	seen := make(map[types.Theme]bool)
	var themes []types.Theme
	for _, rec := range recs {
		if rec.Theme == "" || seen[rec.Theme] {
			continue
		}
		seen[rec.Theme] = true
		themes = append(themes, rec.Theme)
		if limit > 0 && len(themes) >= limit {
			break
		}
	}
	return themes
}
