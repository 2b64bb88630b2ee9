package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoney2759/autotube/internal/types"
)

// File is a JSONL-backed ledger: one marshalled snapshot per line, written
// with O_APPEND and synced after every write. Replay on open tolerates a
// trailing partial line so a crash mid-write never poisons the ledger; a
// snapshot is either fully visible after restart or not present at all.
type File struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	latest map[uuid.UUID]types.RunRecord
}

// OpenFile opens (or creates) the ledger at path and replays its contents.
func OpenFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	latest, err := replay(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file %s: %w", path, err)
	}

	return &File{f: f, path: path, latest: latest}, nil
}

// replay folds the JSONL file into the latest snapshot per run. Unparseable
// lines are skipped; only an interrupted final write should produce one.
func replay(path string) (map[uuid.UUID]types.RunRecord, error) {
	latest := make(map[uuid.UUID]types.RunRecord)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return latest, nil
		}
		return nil, fmt.Errorf("failed to read ledger file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.RunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		latest[rec.RunID] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger file %s: %w", path, err)
	}

	return latest, nil
}

// Append marshals the snapshot, appends it as one line, and syncs.
func (l *File) Append(_ context.Context, rec *types.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", ErrWrite, err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrWrite, err)
	}

	l.latest[rec.RunID] = *rec
	return nil
}

// HasRun reports whether any snapshot exists for the run ID.
func (l *File) HasRun(_ context.Context, runID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.latest[runID]
	return ok, nil
}

// CountForDay counts quota-consuming runs created on the given UTC day.
func (l *File) CountForDay(_ context.Context, day time.Time) (int, error) {
	day = types.DayBucket(day)
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, rec := range l.latest {
		if countsTowardQuota(rec.Status) && types.DayBucket(rec.CreatedAt).Equal(day) {
			count++
		}
	}
	return count, nil
}

// RecentThemes returns up to limit distinct themes, newest run first.
func (l *File) RecentThemes(_ context.Context, limit int) ([]types.Theme, error) {
	l.mu.Lock()
	recs := l.latestRecords()
	l.mu.Unlock()
	sortNewestFirst(recs)
	return distinctThemes(recs, limit), nil
}

// Recent returns the latest snapshot of up to limit runs, newest first.
func (l *File) Recent(_ context.Context, limit int) ([]types.RunRecord, error) {
	l.mu.Lock()
	recs := l.latestRecords()
	l.mu.Unlock()
	sortNewestFirst(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// ReconcileOnStartup converts runs left running into failed("interrupted").
func (l *File) ReconcileOnStartup(ctx context.Context) (int, error) {
	l.mu.Lock()
	var stuck []types.RunRecord
	for _, rec := range l.latest {
		if rec.Status == types.RunStatusRunning {
			stuck = append(stuck, rec)
		}
	}
	l.mu.Unlock()

	for i, rec := range stuck {
		fixed := interrupted(rec)
		if err := l.Append(ctx, &fixed); err != nil {
			return i, err
		}
	}
	return len(stuck), nil
}

// Close closes the underlying file.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// latestRecords copies the latest snapshot of every run. Caller holds mu.
func (l *File) latestRecords() []types.RunRecord {
	recs := make([]types.RunRecord, 0, len(l.latest))
	for _, rec := range l.latest {
		recs = append(recs, rec)
	}
	return recs
}
