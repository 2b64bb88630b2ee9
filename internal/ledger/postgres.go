package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stoney2759/autotube/internal/types"
)

// Postgres stores run snapshots in an append-only table. Every Append
// inserts a new row; queries fold to the latest snapshot per run with
// DISTINCT ON, so the ledger history stays auditable while quota checks
// remain a single query.
type Postgres struct {
	pool *pgxpool.Pool
}

// latestSnapshotSQL selects the newest snapshot row per run.
const latestSnapshotSQL = `
	SELECT DISTINCT ON (run_id) run_id, theme, status, day, record, created_at
	FROM run_snapshots
	ORDER BY run_id, seq DESC`

// ConnectPostgres establishes a connection pool and ensures the snapshot
// table exists.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg := &Postgres{pool: pool}
	if err := pg.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS run_snapshots (
			seq        BIGSERIAL PRIMARY KEY,
			run_id     UUID NOT NULL,
			theme      TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			day        DATE NOT NULL,
			record     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			appended_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS run_snapshots_run_id_seq ON run_snapshots (run_id, seq DESC);
		CREATE INDEX IF NOT EXISTS run_snapshots_day ON run_snapshots (day);`)
	if err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Append inserts a snapshot row.
func (p *Postgres) Append(ctx context.Context, rec *types.RunRecord) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", ErrWrite, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO run_snapshots (run_id, theme, status, day, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RunID, rec.Theme, rec.Status, types.DayBucket(rec.CreatedAt), record, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// HasRun reports whether any snapshot exists for the run ID.
func (p *Postgres) HasRun(ctx context.Context, runID uuid.UUID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM run_snapshots WHERE run_id = $1)`, runID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check run existence: %w", err)
	}
	return exists, nil
}

// CountForDay counts quota-consuming runs created on the given UTC day.
func (p *Postgres) CountForDay(ctx context.Context, day time.Time) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM (`+latestSnapshotSQL+`) s
		 WHERE s.day = $1 AND s.status = ANY($2)`,
		types.DayBucket(day),
		[]string{types.RunStatusPending, types.RunStatusRunning, types.RunStatusSucceeded},
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs for day: %w", err)
	}
	return count, nil
}

// RecentThemes returns up to limit distinct themes, newest run first.
func (p *Postgres) RecentThemes(ctx context.Context, limit int) ([]types.Theme, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT s.theme FROM (`+latestSnapshotSQL+`) s
		 WHERE s.theme <> ''
		 ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent themes: %w", err)
	}
	defer rows.Close()

	seen := make(map[types.Theme]bool)
	var themes []types.Theme
	for rows.Next() {
		var theme types.Theme
		if err := rows.Scan(&theme); err != nil {
			return nil, err
		}
		if seen[theme] {
			continue
		}
		seen[theme] = true
		themes = append(themes, theme)
		if limit > 0 && len(themes) >= limit {
			break
		}
	}
	return themes, rows.Err()
}

// Recent returns the latest snapshot of up to limit runs, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]types.RunRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT s.record FROM (`+latestSnapshotSQL+`) s
		 ORDER BY s.created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var recs []types.RunRecord
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var rec types.RunRecord
		if err := json.Unmarshal(record, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode run snapshot: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ReconcileOnStartup converts runs left running into failed("interrupted").
func (p *Postgres) ReconcileOnStartup(ctx context.Context) (int, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT s.record FROM (`+latestSnapshotSQL+`) s
		 WHERE s.status = $1`, types.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to query interrupted runs: %w", err)
	}

	var stuck []types.RunRecord
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			rows.Close()
			return 0, err
		}
		var rec types.RunRecord
		if err := json.Unmarshal(record, &rec); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to decode run snapshot: %w", err)
		}
		stuck = append(stuck, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for i, rec := range stuck {
		fixed := interrupted(rec)
		if err := p.Append(ctx, &fixed); err != nil {
			return i, err
		}
	}
	return len(stuck), nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
