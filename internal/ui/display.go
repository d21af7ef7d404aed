package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ari/openclaw-stats/internal/schedule"
	"github.com/ari/openclaw-stats/internal/stats"
)

// ANSI color codes
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorBold    = "\033[1m"
)

// FormatTokens formats token count with K/M suffix
func FormatTokens(tokens int64) string {
	if tokens >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	}
	if tokens >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000)
	}
	return fmt.Sprintf("%d", tokens)
}

// FormatCost formats a USD cost; small amounts keep four decimals so
// per-day API costs don't round to zero.
func FormatCost(cost float64) string {
	if cost != 0 && cost < 0.01 {
		return fmt.Sprintf("$%.4f", cost)
	}
	return fmt.Sprintf("$%.2f", cost)
}

// FormatDateTime formats an instant, "-" for the zero time
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

// Error displays an error message
func Error(msg string) {
	fmt.Fprintf(os.Stderr, "%sError: %s%s\n", ColorRed, msg, ColorReset)
}

// DisplaySummary prints the per-day usage table.
func DisplaySummary(days []stats.DailyAggregate) {
	fmt.Printf("\n%s%sDaily Usage%s\n", ColorBold, ColorCyan, ColorReset)
	fmt.Println(strings.Repeat("=", 72))
	if len(days) == 0 {
		fmt.Printf("  %sNo data%s\n", ColorYellow, ColorReset)
		return
	}

	fmt.Printf("  %-12s %10s %10s %10s %10s %9s\n", "Date", "Input", "Output", "Total", "Cost", "Messages")
	fmt.Printf("  %s\n", strings.Repeat("-", 66))
	var total stats.Subtotal
	for _, d := range days {
		fmt.Printf("  %-12s %10s %10s %10s %10s %9d\n",
			d.Date,
			FormatTokens(d.InputTokens),
			FormatTokens(d.OutputTokens),
			FormatTokens(d.TotalTokens),
			FormatCost(d.Cost),
			d.MessageCount)
		total.InputTokens += d.InputTokens
		total.OutputTokens += d.OutputTokens
		total.TotalTokens += d.TotalTokens
		total.Cost += d.Cost
		total.MessageCount += d.MessageCount
	}
	fmt.Printf("  %s\n", strings.Repeat("-", 66))
	fmt.Printf("  %-12s %10s %10s %10s %10s %9d\n", "Total",
		FormatTokens(total.InputTokens),
		FormatTokens(total.OutputTokens),
		FormatTokens(total.TotalTokens),
		FormatCost(total.Cost),
		total.MessageCount)
}

// DisplayToday prints the snapshot for the current date.
func DisplayToday(day stats.DailyAggregate, skipped int) {
	fmt.Printf("\n%s%sToday (%s)%s\n", ColorBold, ColorBlue, day.Date, ColorReset)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  Tokens:     %s (in: %s, out: %s, cache r/w: %s/%s)\n",
		FormatTokens(day.TotalTokens),
		FormatTokens(day.InputTokens),
		FormatTokens(day.OutputTokens),
		FormatTokens(day.CacheReadTokens),
		FormatTokens(day.CacheWriteTokens))
	fmt.Printf("  Cost:       %s\n", FormatCost(day.Cost))
	fmt.Printf("  Messages:   %d\n", day.MessageCount)
	fmt.Printf("  API calls:  %s\n", humanize.Comma(day.RecordCount))
	if skipped > 0 {
		fmt.Printf("  %sSkipped %d malformed log lines%s\n", ColorYellow, skipped, ColorReset)
	}
}

// DisplayTotals prints the all-time grand totals.
func DisplayTotals(t stats.Totals) {
	fmt.Printf("\n%s%sAll-Time Totals%s\n", ColorBold, ColorMagenta, ColorReset)
	fmt.Println(strings.Repeat("=", 60))
	if t.RecordCount == 0 {
		fmt.Printf("  %sNo data%s\n", ColorYellow, ColorReset)
		return
	}
	fmt.Printf("  Tokens:     %s (in: %s, out: %s, cache r/w: %s/%s)\n",
		FormatTokens(t.TotalTokens),
		FormatTokens(t.InputTokens),
		FormatTokens(t.OutputTokens),
		FormatTokens(t.CacheReadTokens),
		FormatTokens(t.CacheWriteTokens))
	fmt.Printf("  Cost:       %s\n", FormatCost(t.Cost))
	fmt.Printf("  Messages:   %s\n", humanize.Comma(t.MessageCount))
	fmt.Printf("  API calls:  %s\n", humanize.Comma(t.RecordCount))
	fmt.Printf("  Span:       %s to %s (%d days)\n", t.FirstDate, t.LastDate, t.Days)
}

// DisplayProviders prints the per-provider/model breakdown.
func DisplayProviders(rows []stats.ProviderTotal) {
	fmt.Printf("\n%s%sProvider Breakdown%s\n", ColorBold, ColorGreen, ColorReset)
	fmt.Println(strings.Repeat("=", 72))
	if len(rows) == 0 {
		fmt.Printf("  %sNo data%s\n", ColorYellow, ColorReset)
		return
	}
	fmt.Printf("  %-12s %-28s %10s %10s %7s\n", "Provider", "Model", "Tokens", "Cost", "Calls")
	fmt.Printf("  %s\n", strings.Repeat("-", 70))
	for _, r := range rows {
		fmt.Printf("  %-12s %-28s %10s %10s %7d\n",
			r.Provider, r.Model,
			FormatTokens(r.TotalTokens),
			FormatCost(r.Cost),
			r.RecordCount)
	}
}

// DisplaySessions prints per-session statistics, most recent first.
func DisplaySessions(rows []stats.SessionStat) {
	fmt.Printf("\n%s%sSessions%s\n", ColorBold, ColorCyan, ColorReset)
	fmt.Println(strings.Repeat("=", 78))
	if len(rows) == 0 {
		fmt.Printf("  %sNo data%s\n", ColorYellow, ColorReset)
		return
	}
	for i, s := range rows {
		fmt.Printf("  %d. %s | %s/%s | %s | %s | %d msgs | last active %s\n",
			i+1,
			s.SessionID,
			s.Provider, s.Model,
			FormatTokens(s.TotalTokens),
			FormatCost(s.Cost),
			s.MessageCount,
			humanize.Time(s.LastActivity))
	}
}

// DisplayJobs prints the full job list with reconciled status.
func DisplayJobs(jobs []schedule.Job) {
	fmt.Printf("\n%s%sScheduled Jobs%s\n", ColorBold, ColorBlue, ColorReset)
	fmt.Println(strings.Repeat("=", 78))
	if len(jobs) == 0 {
		fmt.Printf("  %sNo jobs defined%s\n", ColorYellow, ColorReset)
		return
	}

	enabled := 0
	failures := 0
	for _, j := range jobs {
		if j.Enabled {
			enabled++
		}
		if j.LastOutcome != "" && j.LastOutcome != "ok" {
			failures++
		}
	}
	fmt.Printf("  %d jobs (%d enabled, %d disabled), %d with failing last run\n\n",
		len(jobs), enabled, len(jobs)-enabled, failures)

	fmt.Printf("  %-24s %-20s %-8s %-16s %s\n", "Name", "Schedule", "Status", "Next Run", "Last Run")
	fmt.Printf("  %s\n", strings.Repeat("-", 90))
	for _, j := range jobs {
		next := "-"
		if j.NextRun != nil {
			next = humanize.Time(*j.NextRun)
		}
		last := "-"
		if j.LastRun != nil {
			last = fmt.Sprintf("%s (%s)", FormatDateTime(*j.LastRun), outcomeOrDash(j.LastOutcome))
		}
		status := string(j.Status)
		if j.Status == schedule.StatusError {
			status = ColorRed + status + ColorReset
		}
		fmt.Printf("  %-24s %-20s %-8s %-16s %s\n", j.Name, j.Expr, status, next, last)
	}
}

// DisplayNextRuns prints upcoming jobs ordered by next run.
func DisplayNextRuns(jobs []schedule.Job) {
	fmt.Printf("\n%s%sUpcoming Jobs%s\n", ColorBold, ColorGreen, ColorReset)
	fmt.Println(strings.Repeat("=", 60))
	if len(jobs) == 0 {
		fmt.Printf("  %sNothing scheduled%s\n", ColorYellow, ColorReset)
		return
	}
	for i, j := range jobs {
		fmt.Printf("  %d. %s (%s) - %s, %s\n",
			i+1, j.Name, j.Expr, FormatDateTime(*j.NextRun), humanize.Time(*j.NextRun))
	}
}

// DisplayRecentRuns prints recorded runs, most recent first.
func DisplayRecentRuns(runs []schedule.Run) {
	fmt.Printf("\n%s%sRecent Job Runs%s\n", ColorBold, ColorMagenta, ColorReset)
	fmt.Println(strings.Repeat("=", 60))
	if len(runs) == 0 {
		fmt.Printf("  %sNo recorded runs%s\n", ColorYellow, ColorReset)
		return
	}
	for i, r := range runs {
		outcome := outcomeOrDash(r.Outcome)
		if outcome != "ok" && outcome != "-" {
			outcome = ColorRed + outcome + ColorReset
		}
		fmt.Printf("  %d. %s %s - %s (%dms)\n",
			i+1, FormatDateTime(r.At), r.Name, outcome, r.DurationMs)
	}
}

func outcomeOrDash(outcome string) string {
	if outcome == "" {
		return "-"
	}
	return outcome
}
