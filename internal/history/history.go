// Package history persists daily usage summaries to SQLite so aggregates
// survive session log rotation and cleanup. The live pipeline never reads
// from here; it is a write-behind archive queried explicitly.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ari/openclaw-stats/internal/stats"
)

// DB wraps the history database connection.
type DB struct {
	db *sql.DB
}

// Open opens (and migrates) the database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_summaries (
		date TEXT PRIMARY KEY,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		cache_read_tokens INTEGER DEFAULT 0,
		cache_write_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		cost REAL DEFAULT 0,
		message_count INTEGER DEFAULT 0,
		record_count INTEGER DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

// DailyRow is one persisted daily summary.
type DailyRow struct {
	Date             string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
	Cost             float64
	MessageCount     int64
	RecordCount      int64
	UpdatedAt        int64
}

// Snapshot upserts the given daily aggregates and records the pass in the
// metadata table. Returns the snapshot pass id. Re-running a snapshot for
// the same dates overwrites the rows, so a snapshot is idempotent for an
// unchanged record set.
func (d *DB) Snapshot(ctx context.Context, days []stats.DailyAggregate) (string, error) {
	now := time.Now().Unix()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT OR REPLACE INTO daily_summaries
		(date, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
		total_tokens, cost, message_count, record_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, day := range days {
		_, err := tx.ExecContext(ctx, query,
			day.Date, day.InputTokens, day.OutputTokens, day.CacheReadTokens, day.CacheWriteTokens,
			day.TotalTokens, day.Cost, day.MessageCount, day.RecordCount, now)
		if err != nil {
			return "", fmt.Errorf("failed to upsert daily summary %s: %w", day.Date, err)
		}
	}

	id := uuid.NewString()
	meta := `INSERT OR REPLACE INTO metadata (key, value, updated_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, meta, "last_snapshot_id", id, now); err != nil {
		return "", fmt.Errorf("failed to record snapshot id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, meta, "last_snapshot_at", fmt.Sprintf("%d", now), now); err != nil {
		return "", fmt.Errorf("failed to record snapshot time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return id, nil
}

// GetDailySummaries returns persisted summaries for dates >= since (YYYY-MM-DD),
// ordered by date ascending. An empty since returns everything.
func (d *DB) GetDailySummaries(ctx context.Context, since string) ([]DailyRow, error) {
	query := `SELECT date, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
		total_tokens, cost, message_count, record_count, updated_at
		FROM daily_summaries WHERE date >= ? ORDER BY date`

	rows, err := d.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []DailyRow
	for rows.Next() {
		var r DailyRow
		err := rows.Scan(&r.Date, &r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheWriteTokens,
			&r.TotalTokens, &r.Cost, &r.MessageCount, &r.RecordCount, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSnapshot returns the id and unix time of the most recent snapshot
// pass, or zero values if none has been taken.
func (d *DB) LastSnapshot(ctx context.Context) (string, int64, error) {
	var id string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, "last_snapshot_id").Scan(&id)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to get last snapshot id: %w", err)
	}

	var at int64
	var value string
	err = d.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, "last_snapshot_at").Scan(&value)
	if err != nil && err != sql.ErrNoRows {
		return "", 0, fmt.Errorf("failed to get last snapshot time: %w", err)
	}
	if err == nil {
		fmt.Sscanf(value, "%d", &at)
	}
	return id, at, nil
}
