package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ari/openclaw-stats/internal/stats"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleDays() []stats.DailyAggregate {
	return []stats.DailyAggregate{
		{Date: "2026-03-04", Subtotal: stats.Subtotal{InputTokens: 80, OutputTokens: 20, TotalTokens: 100, Cost: 0.01, MessageCount: 2, RecordCount: 3}},
		{Date: "2026-03-05", Subtotal: stats.Subtotal{InputTokens: 150, OutputTokens: 50, TotalTokens: 200, Cost: 0.02, MessageCount: 4, RecordCount: 5}},
	}
}

func TestSnapshotAndReadBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Snapshot(ctx, sampleDays())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if id == "" {
		t.Error("expected a snapshot id")
	}

	rows, err := db.GetDailySummaries(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows; want 2", len(rows))
	}
	if rows[0].Date != "2026-03-04" || rows[1].Date != "2026-03-05" {
		t.Errorf("dates = %s, %s; want ascending order", rows[0].Date, rows[1].Date)
	}
	if rows[1].TotalTokens != 200 || rows[1].Cost != 0.02 {
		t.Errorf("row = %+v; want 200 tokens, 0.02 cost", rows[1])
	}
}

func TestSnapshot_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Snapshot(ctx, sampleDays()); err != nil {
		t.Fatal(err)
	}
	// Second snapshot of the same dates upserts, never duplicates.
	if _, err := db.Snapshot(ctx, sampleDays()); err != nil {
		t.Fatal(err)
	}

	rows, err := db.GetDailySummaries(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows after re-snapshot; want 2", len(rows))
	}
}

func TestSnapshot_UpdatesChangedDay(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	days := sampleDays()
	if _, err := db.Snapshot(ctx, days); err != nil {
		t.Fatal(err)
	}

	days[1].TotalTokens = 500
	if _, err := db.Snapshot(ctx, days); err != nil {
		t.Fatal(err)
	}

	rows, err := db.GetDailySummaries(ctx, "2026-03-05")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows; want 1", len(rows))
	}
	if rows[0].TotalTokens != 500 {
		t.Errorf("tokens = %d; want updated 500", rows[0].TotalTokens)
	}
}

func TestGetDailySummaries_Since(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Snapshot(ctx, sampleDays()); err != nil {
		t.Fatal(err)
	}
	rows, err := db.GetDailySummaries(ctx, "2026-03-05")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Date != "2026-03-05" {
		t.Errorf("since filter: got %d rows; want just 2026-03-05", len(rows))
	}
}

func TestLastSnapshot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, at, err := db.LastSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "" || at != 0 {
		t.Errorf("fresh db: id=%q at=%d; want zero values", id, at)
	}

	wrote, err := db.Snapshot(ctx, sampleDays())
	if err != nil {
		t.Fatal(err)
	}

	id, at, err = db.LastSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != wrote {
		t.Errorf("id = %q; want %q", id, wrote)
	}
	if at == 0 {
		t.Error("expected a snapshot timestamp")
	}
}
