package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a computed aggregate is served without recomputing.
// A deliberate staleness/throughput trade-off for a monitoring surface.
const DefaultTTL = 30 * time.Second

// Aggregator derives rollups from the record cache, memoizing each query by
// (method, arguments) for a short TTL so request bursts collapse into one
// computation.
type Aggregator struct {
	cache *RecordCache
	dir   string
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	results map[string]*cachedResult
}

// cachedResult guards one (method, arguments) key. Its mutex doubles as the
// at-most-one-concurrent-computation section: a second identical request
// blocks until the first finishes, then reads the fresh value.
type cachedResult struct {
	mu       sync.Mutex
	valid    bool
	val      any
	computed time.Time
}

// NewAggregator builds an aggregator over the sessions directory. A zero ttl
// means DefaultTTL.
func NewAggregator(cache *RecordCache, sessionsDir string, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		cache:   cache,
		dir:     sessionsDir,
		ttl:     ttl,
		now:     time.Now,
		results: make(map[string]*cachedResult),
	}
}

// ClearCache drops both the memoized query results and the underlying record
// cache, so the next query reflects file changes regardless of TTL.
func (a *Aggregator) ClearCache() {
	a.mu.Lock()
	a.results = make(map[string]*cachedResult)
	a.mu.Unlock()
	a.cache.InvalidateAll()
}

// SkippedLines reports how many malformed log lines the current record set
// carries, recomputing the record set if needed.
func (a *Aggregator) SkippedLines(ctx context.Context) (int, error) {
	_, skipped, err := a.collect(ctx)
	return skipped, err
}

func (a *Aggregator) cached(key string, compute func() (any, error)) (any, error) {
	a.mu.Lock()
	cr, ok := a.results[key]
	if !ok {
		cr = &cachedResult{}
		a.results[key] = cr
	}
	a.mu.Unlock()

	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.valid && a.now().Sub(cr.computed) < a.ttl {
		return cr.val, nil
	}
	val, err := compute()
	if err != nil {
		return nil, err
	}
	cr.val = val
	cr.computed = a.now()
	cr.valid = true
	return val, nil
}

// cloneDays deep-copies a memoized daily slice. Cached values are handed out
// as copies so a caller can never mutate the value later requests are served.
func cloneDays(days []DailyAggregate) []DailyAggregate {
	out := make([]DailyAggregate, len(days))
	copy(out, days)
	for i := range out {
		bd := make(map[ProviderModel]*Subtotal, len(out[i].Breakdown))
		for pm, st := range out[i].Breakdown {
			c := *st
			bd[pm] = &c
		}
		out[i].Breakdown = bd
	}
	return out
}

// collect walks the sessions directory and returns the merged record set.
// A missing directory is zero records, not a fault.
func (a *Aggregator) collect(ctx context.Context) ([]UsageRecord, int, error) {
	files, err := discoverLogs(a.dir)
	if err != nil {
		return nil, 0, err
	}
	return a.cache.Records(ctx, files)
}

// discoverLogs finds session log files under dir, skipping soft-deleted ones.
func discoverLogs(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		if strings.Contains(filepath.Base(path), ".deleted.") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk sessions directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// inRange filters by the half-open window [from, to); zero bounds are open.
func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && !ts.Before(to) {
		return false
	}
	return true
}

func dayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// Summary returns per-day aggregates over [from, to), ordered by date
// ascending. When both bounds are set, days without records appear with zero
// totals so charts have a continuous axis.
func (a *Aggregator) Summary(ctx context.Context, from, to time.Time) ([]DailyAggregate, error) {
	key := fmt.Sprintf("summary:%d:%d", from.Unix(), to.Unix())
	val, err := a.cached(key, func() (any, error) {
		records, _, err := a.collect(ctx)
		if err != nil {
			return nil, err
		}
		return foldDaily(records, from, to), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneDays(val.([]DailyAggregate)), nil
}

// Today returns the single aggregate for the current UTC date.
func (a *Aggregator) Today(ctx context.Context) (DailyAggregate, error) {
	day := a.now().UTC().Truncate(24 * time.Hour)
	days, err := a.Summary(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return DailyAggregate{}, err
	}
	if len(days) == 0 {
		return DailyAggregate{Date: dayKey(day), Breakdown: map[ProviderModel]*Subtotal{}}, nil
	}
	return days[0], nil
}

// Total returns all-time grand totals.
func (a *Aggregator) Total(ctx context.Context) (Totals, error) {
	val, err := a.cached("total", func() (any, error) {
		records, _, err := a.collect(ctx)
		if err != nil {
			return nil, err
		}
		var t Totals
		var first, last time.Time
		for _, r := range records {
			t.add(r)
			if first.IsZero() || r.Timestamp.Before(first) {
				first = r.Timestamp
			}
			if r.Timestamp.After(last) {
				last = r.Timestamp
			}
		}
		if !first.IsZero() {
			t.FirstDate = dayKey(first)
			t.LastDate = dayKey(last)
			t.Days = int(last.UTC().Truncate(24*time.Hour).Sub(first.UTC().Truncate(24*time.Hour))/(24*time.Hour)) + 1
		}
		return t, nil
	})
	if err != nil {
		return Totals{}, err
	}
	return val.(Totals), nil
}

// ByProvider returns per-(provider, model) subtotals over [from, to),
// ordered by cost descending, then provider and model ascending.
func (a *Aggregator) ByProvider(ctx context.Context, from, to time.Time) ([]ProviderTotal, error) {
	key := fmt.Sprintf("providers:%d:%d", from.Unix(), to.Unix())
	val, err := a.cached(key, func() (any, error) {
		records, _, err := a.collect(ctx)
		if err != nil {
			return nil, err
		}
		buckets := make(map[ProviderModel]*Subtotal)
		for _, r := range records {
			if !inRange(r.Timestamp, from, to) {
				continue
			}
			pm := ProviderModel{Provider: r.Provider, Model: r.Model}
			st, ok := buckets[pm]
			if !ok {
				st = &Subtotal{}
				buckets[pm] = st
			}
			st.add(r)
		}
		out := make([]ProviderTotal, 0, len(buckets))
		for pm, st := range buckets {
			out = append(out, ProviderTotal{ProviderModel: pm, Subtotal: *st})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Cost != out[j].Cost {
				return out[i].Cost > out[j].Cost
			}
			if out[i].Provider != out[j].Provider {
				return out[i].Provider < out[j].Provider
			}
			return out[i].Model < out[j].Model
		})
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]ProviderTotal(nil), val.([]ProviderTotal)...), nil
}

// SessionStats returns per-session aggregates over [from, to), ordered by
// most recent activity descending with session id as the deterministic tie
// break, truncated to limit.
func (a *Aggregator) SessionStats(ctx context.Context, from, to time.Time, limit int) ([]SessionStat, error) {
	key := fmt.Sprintf("sessions:%d:%d:%d", from.Unix(), to.Unix(), limit)
	val, err := a.cached(key, func() (any, error) {
		records, _, err := a.collect(ctx)
		if err != nil {
			return nil, err
		}
		sessions := make(map[string]*SessionStat)
		for _, r := range records {
			if !inRange(r.Timestamp, from, to) {
				continue
			}
			id := r.SessionID
			if id == "" {
				id = "unknown"
			}
			st, ok := sessions[id]
			if !ok {
				st = &SessionStat{SessionID: id, FirstSeen: r.Timestamp, LastActivity: r.Timestamp}
				sessions[id] = st
			}
			if r.Timestamp.Before(st.FirstSeen) {
				st.FirstSeen = r.Timestamp
			}
			if !r.Timestamp.Before(st.LastActivity) {
				st.LastActivity = r.Timestamp
				st.Provider = r.Provider
				st.Model = r.Model
			}
			st.Subtotal.add(r)
		}
		out := make([]SessionStat, 0, len(sessions))
		for _, st := range sessions {
			out = append(out, *st)
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].LastActivity.Equal(out[j].LastActivity) {
				return out[i].LastActivity.After(out[j].LastActivity)
			}
			return out[i].SessionID < out[j].SessionID
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]SessionStat(nil), val.([]SessionStat)...), nil
}

// foldDaily buckets records by UTC calendar date.
func foldDaily(records []UsageRecord, from, to time.Time) []DailyAggregate {
	daily := make(map[string]*DailyAggregate)

	ensure := func(date string) *DailyAggregate {
		d, ok := daily[date]
		if !ok {
			d = &DailyAggregate{Date: date, Breakdown: make(map[ProviderModel]*Subtotal)}
			daily[date] = d
		}
		return d
	}

	if !from.IsZero() && !to.IsZero() {
		for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
			ensure(dayKey(day))
		}
	}

	for _, r := range records {
		if !inRange(r.Timestamp, from, to) {
			continue
		}
		d := ensure(dayKey(r.Timestamp))
		d.Subtotal.add(r)

		pm := ProviderModel{Provider: r.Provider, Model: r.Model}
		st, ok := d.Breakdown[pm]
		if !ok {
			st = &Subtotal{}
			d.Breakdown[pm] = st
		}
		st.add(r)
	}

	out := make([]DailyAggregate, 0, len(daily))
	for _, d := range daily {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
