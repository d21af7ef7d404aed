package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests drive the aggregator's notion of now.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregator(t *testing.T, dir string) (*Aggregator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)}
	agg := NewAggregator(NewRecordCache(), dir, DefaultTTL)
	agg.now = clock.now
	return agg, clock
}

const dayScenarioLog = `{"type":"session","id":"sess-1","timestamp":"2026-03-05T09:00:00Z"}
{"type":"custom","customType":"model-snapshot","timestamp":"2026-03-05T09:00:01Z","data":{"provider":"alpha","modelId":"m1"}}
{"type":"message","timestamp":"2026-03-05T09:01:00Z","message":{"role":"user","content":"do the thing","usage":{"input":80,"output":20,"totalTokens":100,"cost":{"total":0.01}}}}
{"type":"message","timestamp":"2026-03-05T10:00:00Z","message":{"role":"user","content":"and another","usage":{"input":70,"output":30,"totalTokens":100,"cost":{"total":0.01}}}}
{"type":"message","timestamp":"2026-03-05T11:00:00Z","message":{"role":"user","content":"[cron:report] scheduled run","usage":{"input":90,"output":10,"totalTokens":100,"cost":{"total":0}}}}
`

func TestSummary_SingleDayScenario(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "sess-1.jsonl", dayScenarioLog)

	agg, _ := newTestAggregator(t, dir)
	from := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	days, err := agg.Summary(context.Background(), from, from.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Fatalf("got %d days; want 1", len(days))
	}

	d := days[0]
	if d.Date != "2026-03-05" {
		t.Errorf("date = %s; want 2026-03-05", d.Date)
	}
	if d.TotalTokens != 300 {
		t.Errorf("tokens = %d; want 300 (system records still count tokens)", d.TotalTokens)
	}
	if d.Cost != 0.02 {
		t.Errorf("cost = %v; want 0.02", d.Cost)
	}
	if d.MessageCount != 2 {
		t.Errorf("messages = %d; want 2 (cron-triggered record excluded)", d.MessageCount)
	}
	if d.RecordCount != 3 {
		t.Errorf("records = %d; want 3", d.RecordCount)
	}

	st, ok := d.Breakdown[ProviderModel{Provider: "alpha", Model: "m1"}]
	if !ok {
		t.Fatal("missing (alpha, m1) breakdown bucket")
	}
	if st.TotalTokens != 300 {
		t.Errorf("breakdown tokens = %d; want 300", st.TotalTokens)
	}
}

func TestSummary_ZeroFillsBoundedRange(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl", usageLine("2026-03-05T09:00:00Z", 100))

	agg, _ := newTestAggregator(t, dir)
	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	days, err := agg.Summary(context.Background(), from, from.Add(3*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 3 {
		t.Fatalf("got %d days; want 3 (empty days zero-filled)", len(days))
	}
	dates := []string{"2026-03-04", "2026-03-05", "2026-03-06"}
	for i, want := range dates {
		if days[i].Date != want {
			t.Errorf("day %d = %s; want %s", i, days[i].Date, want)
		}
	}
	if days[0].TotalTokens != 0 || days[2].TotalTokens != 0 {
		t.Error("empty days must have zero totals")
	}
	if days[1].TotalTokens != 100 {
		t.Errorf("middle day tokens = %d; want 100", days[1].TotalTokens)
	}
}

func TestSummary_HalfOpenWindow(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl",
		usageLine("2026-03-04T23:59:59Z", 1)+
			usageLine("2026-03-05T00:00:00Z", 2)+
			usageLine("2026-03-06T00:00:00Z", 4))

	agg, _ := newTestAggregator(t, dir)
	from := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	days, err := agg.Summary(context.Background(), from, from.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Fatalf("got %d days; want 1", len(days))
	}
	// from is inclusive, to is exclusive.
	if days[0].TotalTokens != 2 {
		t.Errorf("tokens = %d; want 2", days[0].TotalTokens)
	}
}

func TestToday(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl", usageLine("2026-03-05T09:00:00Z", 100))

	agg, _ := newTestAggregator(t, dir)
	day, err := agg.Today(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if day.Date != "2026-03-05" {
		t.Errorf("date = %s; want 2026-03-05", day.Date)
	}
	if day.TotalTokens != 100 {
		t.Errorf("tokens = %d; want 100", day.TotalTokens)
	}
}

func TestTotal(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl",
		usageLine("2026-03-01T09:00:00Z", 100)+usageLine("2026-03-05T09:00:00Z", 200))

	agg, _ := newTestAggregator(t, dir)
	total, err := agg.Total(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total.TotalTokens != 300 {
		t.Errorf("tokens = %d; want 300", total.TotalTokens)
	}
	if total.FirstDate != "2026-03-01" || total.LastDate != "2026-03-05" {
		t.Errorf("span = %s..%s; want 2026-03-01..2026-03-05", total.FirstDate, total.LastDate)
	}
	if total.Days != 5 {
		t.Errorf("days = %d; want 5", total.Days)
	}
}

func TestResultCacheServesStaleWithinTTL(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "a.jsonl", usageLine("2026-03-05T09:00:00Z", 100))

	agg, clock := newTestAggregator(t, dir)
	ctx := context.Background()

	total, err := agg.Total(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total.TotalTokens != 100 {
		t.Fatalf("tokens = %d; want 100", total.TotalTokens)
	}

	appendTo(t, path, usageLine("2026-03-05T10:00:00Z", 50))

	// Within the TTL the memoized result is served unchanged.
	clock.advance(10 * time.Second)
	total, err = agg.Total(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total.TotalTokens != 100 {
		t.Errorf("tokens = %d within TTL; want stale 100", total.TotalTokens)
	}

	// Past the TTL the append is visible.
	clock.advance(25 * time.Second)
	total, err = agg.Total(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total.TotalTokens != 150 {
		t.Errorf("tokens = %d after TTL; want 150", total.TotalTokens)
	}
}

func TestTotal_ConcurrentCallsComputeOnce(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl", usageLine("2026-03-05T09:00:00Z", 100))

	agg := NewAggregator(NewRecordCache(), dir, DefaultTTL)
	var clockReads int64
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time {
		atomic.AddInt64(&clockReads, 1)
		return base
	}

	const goroutines = 16
	var wg sync.WaitGroup
	totals := make([]Totals, goroutines)
	errs := make([]error, goroutines)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			totals[i], errs[i] = agg.Total(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d failed: %v", i, errs[i])
		}
		if totals[i].TotalTokens != 100 {
			t.Errorf("goroutine %d tokens = %d; want 100", i, totals[i].TotalTokens)
		}
	}

	// The clock is read once per lookup plus once more when the computed
	// value is stored; the burst collapsing into a single computation means
	// exactly goroutines+1 reads.
	if n := atomic.LoadInt64(&clockReads); n != goroutines+1 {
		t.Errorf("clock reads = %d; want %d (one computation for the burst)", n, goroutines+1)
	}
}

func TestSummary_ReturnedValueIsACopy(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "sess-1.jsonl", dayScenarioLog)

	agg, _ := newTestAggregator(t, dir)
	ctx := context.Background()
	days, err := agg.Summary(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Fatalf("got %d days; want 1", len(days))
	}

	// Scribble over the returned value, totals and breakdown both.
	days[0].TotalTokens = 9999
	for _, st := range days[0].Breakdown {
		st.TotalTokens = 9999
	}

	again, err := agg.Summary(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if again[0].TotalTokens != 300 {
		t.Errorf("cached tokens = %d after caller mutation; want 300", again[0].TotalTokens)
	}
	st := again[0].Breakdown[ProviderModel{Provider: "alpha", Model: "m1"}]
	if st == nil || st.TotalTokens != 300 {
		t.Errorf("cached breakdown mutated through the returned map")
	}
}

func TestClearCacheBypassesTTL(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "a.jsonl", usageLine("2026-03-05T09:00:00Z", 100))

	agg, _ := newTestAggregator(t, dir)
	ctx := context.Background()

	if _, err := agg.Total(ctx); err != nil {
		t.Fatal(err)
	}
	appendTo(t, path, usageLine("2026-03-05T10:00:00Z", 50))

	agg.ClearCache()
	total, err := agg.Total(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total.TotalTokens != 150 {
		t.Errorf("tokens = %d after ClearCache; want 150", total.TotalTokens)
	}
}

func TestByProvider_OrderedByCost(t *testing.T) {
	dir := t.TempDir()
	content := `{"type":"message","timestamp":"2026-03-05T09:00:00Z","message":{"role":"user","provider":"alpha","model":"m1","usage":{"input":10,"totalTokens":10,"cost":{"total":0.05}}}}
{"type":"message","timestamp":"2026-03-05T09:01:00Z","message":{"role":"user","provider":"beta","model":"m2","usage":{"input":10,"totalTokens":10,"cost":{"total":0.90}}}}
{"type":"message","timestamp":"2026-03-05T09:02:00Z","message":{"role":"user","provider":"alpha","model":"m0","usage":{"input":10,"totalTokens":10,"cost":{"total":0.05}}}}
`
	writeLog(t, dir, "a.jsonl", content)

	agg, _ := newTestAggregator(t, dir)
	rows, err := agg.ByProvider(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows; want 3", len(rows))
	}
	if rows[0].Provider != "beta" {
		t.Errorf("first row provider = %s; want beta (highest cost)", rows[0].Provider)
	}
	// Equal cost ties break on provider then model, ascending.
	if rows[1].Model != "m0" || rows[2].Model != "m1" {
		t.Errorf("tie order = %s, %s; want m0, m1", rows[1].Model, rows[2].Model)
	}
}

func TestSessionStats_OrderAndLimit(t *testing.T) {
	dir := t.TempDir()
	older := `{"type":"session","id":"sess-old","timestamp":"2026-03-05T08:00:00Z"}
{"type":"message","timestamp":"2026-03-05T08:30:00Z","message":{"role":"user","provider":"alpha","model":"m1","usage":{"input":10,"totalTokens":10,"cost":{"total":0.01}}}}
`
	newer := `{"type":"session","id":"sess-new","timestamp":"2026-03-05T09:00:00Z"}
{"type":"message","timestamp":"2026-03-05T09:30:00Z","message":{"role":"user","provider":"alpha","model":"m2","usage":{"input":20,"totalTokens":20,"cost":{"total":0.02}}}}
`
	writeLog(t, dir, "old.jsonl", older)
	writeLog(t, dir, "new.jsonl", newer)

	agg, _ := newTestAggregator(t, dir)
	rows, err := agg.SessionStats(context.Background(), time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d sessions; want 2", len(rows))
	}
	if rows[0].SessionID != "sess-new" || rows[1].SessionID != "sess-old" {
		t.Errorf("order = %s, %s; want sess-new, sess-old", rows[0].SessionID, rows[1].SessionID)
	}
	if rows[0].Model != "m2" {
		t.Errorf("latest model = %s; want m2", rows[0].Model)
	}

	limited, err := agg.SessionStats(context.Background(), time.Time{}, time.Time{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].SessionID != "sess-new" {
		t.Errorf("limit 1: got %d rows; want just sess-new", len(limited))
	}
}

func TestDiscoverLogs(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl", "")
	writeLog(t, dir, "b.deleted.jsonl", "")
	writeLog(t, dir, "notes.txt", "")

	files, err := discoverLogs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files; want 1", len(files))
	}

	missing, err := discoverLogs(dir + "/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("missing dir should yield no files, got %v", missing)
	}
}

func TestAggregator_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl", usageLine("2026-03-05T09:00:00Z", 100))

	agg, _ := newTestAggregator(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := agg.Total(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}
