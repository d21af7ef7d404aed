package stats

import "time"

// RecordKind classifies a parsed usage record. Token and cost rollups count
// every kind; the message-count metric only counts user-facing kinds.
type RecordKind string

const (
	KindUser      RecordKind = "user"
	KindAssistant RecordKind = "assistant"
	KindSystem    RecordKind = "system"
)

// UserFacing reports whether the record represents a genuine exchange rather
// than internal bookkeeping (heartbeats, cron triggers, mirror deliveries).
func (k RecordKind) UserFacing() bool {
	return k == KindUser || k == KindAssistant
}

// UsageRecord is one parsed usage event from a session log line. Immutable
// once created; owned by the record cache entry for its source file.
type UsageRecord struct {
	Timestamp        time.Time
	SessionID        string
	Provider         string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
	Cost             float64
	Kind             RecordKind
	Line             int // line index in the source file, dedup key with the path
}

// ProviderModel is the breakdown dimension for provider rollups.
type ProviderModel struct {
	Provider string
	Model    string
}

// Subtotal accumulates token/cost/message sums for one breakdown bucket.
type Subtotal struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
	Cost             float64
	MessageCount     int64
	RecordCount      int64
}

func (s *Subtotal) add(r UsageRecord) {
	s.InputTokens += r.InputTokens
	s.OutputTokens += r.OutputTokens
	s.CacheReadTokens += r.CacheReadTokens
	s.CacheWriteTokens += r.CacheWriteTokens
	s.TotalTokens += r.TotalTokens
	s.Cost += r.Cost
	s.RecordCount++
	if r.Kind.UserFacing() {
		s.MessageCount++
	}
}

// DailyAggregate is the derived rollup for one calendar date (UTC).
type DailyAggregate struct {
	Date      string // YYYY-MM-DD
	Subtotal
	Breakdown map[ProviderModel]*Subtotal
}

// ProviderTotal is one row of the provider breakdown, ordered for display.
type ProviderTotal struct {
	ProviderModel
	Subtotal
}

// SessionStat aggregates one session's usage.
type SessionStat struct {
	SessionID    string
	Provider     string
	Model        string
	FirstSeen    time.Time
	LastActivity time.Time
	Subtotal
}

// Totals are the all-time grand totals.
type Totals struct {
	Subtotal
	FirstDate string
	LastDate  string
	Days      int
}
