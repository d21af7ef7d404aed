package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ari/openclaw-stats/internal/config"
	"github.com/ari/openclaw-stats/internal/history"
	"github.com/ari/openclaw-stats/internal/schedule"
	"github.com/ari/openclaw-stats/internal/stats"
	"github.com/ari/openclaw-stats/internal/ui"
)

var (
	cfgPath string
	cfg     *config.Config
	fresh   bool
)

var rootCmd = &cobra.Command{
	Use:   "openclaw-stats",
	Short: "Usage statistics for OpenClaw agent sessions",
	Long:  `A CLI tool that aggregates token usage, cost and cron job status from OpenClaw session logs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help command
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// newAggregator wires a fresh record cache and aggregator from config. Each
// invocation is a new process, so the caches start cold; --fresh only matters
// for the long-running watch command.
func newAggregator() *stats.Aggregator {
	agg := stats.NewAggregator(stats.NewRecordCache(), cfg.SessionsDir, cfg.CacheTTL())
	if fresh {
		agg.ClearCache()
	}
	return agg
}

// daysArg parses an optional positional day count, falling back to the
// configured default.
func daysArg(args []string) (int, error) {
	if len(args) == 0 {
		return cfg.DefaultDays, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid day count: %s", args[0])
	}
	return n, nil
}

// lastDays returns the [from, to) window covering the last n UTC dates,
// today included.
func lastDays(n int) (time.Time, time.Time) {
	to := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.Add(-time.Duration(n) * 24 * time.Hour)
	return from, to
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show loaded configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Config loaded:\n")
		fmt.Printf("  Sessions dir: %s\n", cfg.SessionsDir)
		fmt.Printf("  Cron file:    %s\n", cfg.CronFile)
		fmt.Printf("  Database:     %s\n", cfg.Database)
		fmt.Printf("  Cache TTL:    %s\n", cfg.CacheTTL())
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary [days]",
	Short: "Show per-day usage for the last N days",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := daysArg(args)
		if err != nil {
			ui.Error(err.Error())
			os.Exit(1)
		}
		from, to := lastDays(n)
		days, err := newAggregator().Summary(context.Background(), from, to)
		if err != nil {
			ui.Error(fmt.Sprintf("Error computing summary: %v", err))
			os.Exit(1)
		}
		ui.DisplaySummary(days)
	},
}

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show usage for the current day",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		agg := newAggregator()
		ctx := context.Background()
		day, err := agg.Today(ctx)
		if err != nil {
			ui.Error(fmt.Sprintf("Error computing today: %v", err))
			os.Exit(1)
		}
		skipped, err := agg.SkippedLines(ctx)
		if err != nil {
			ui.Error(fmt.Sprintf("Error computing today: %v", err))
			os.Exit(1)
		}
		ui.DisplayToday(day, skipped)
	},
}

var totalCmd = &cobra.Command{
	Use:   "total",
	Short: "Show all-time totals",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		t, err := newAggregator().Total(context.Background())
		if err != nil {
			ui.Error(fmt.Sprintf("Error computing totals: %v", err))
			os.Exit(1)
		}
		ui.DisplayTotals(t)
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers [days]",
	Short: "Show per-provider/model breakdown for the last N days",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := daysArg(args)
		if err != nil {
			ui.Error(err.Error())
			os.Exit(1)
		}
		from, to := lastDays(n)
		rows, err := newAggregator().ByProvider(context.Background(), from, to)
		if err != nil {
			ui.Error(fmt.Sprintf("Error computing provider breakdown: %v", err))
			os.Exit(1)
		}
		ui.DisplayProviders(rows)
	},
}

var sessionLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions [days]",
	Short: "Show per-session stats for the last N days",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := daysArg(args)
		if err != nil {
			ui.Error(err.Error())
			os.Exit(1)
		}
		limit := sessionLimit
		if limit == 0 {
			limit = cfg.SessionLimit
		}
		from, to := lastDays(n)
		rows, err := newAggregator().SessionStats(context.Background(), from, to, limit)
		if err != nil {
			ui.Error(fmt.Sprintf("Error computing session stats: %v", err))
			os.Exit(1)
		}
		ui.DisplaySessions(rows)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show cron jobs with status and next run",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jobs, err := schedule.NewReconciler(cfg.CronFile).Load()
		if err != nil {
			ui.Error(fmt.Sprintf("Error loading jobs: %v", err))
			os.Exit(1)
		}
		ui.DisplayJobs(jobs)
	},
}

var nextCmd = &cobra.Command{
	Use:   "next [count]",
	Short: "Show the next scheduled job runs",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		count := 5
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				ui.Error(fmt.Sprintf("invalid count: %s", args[0]))
				os.Exit(1)
			}
			count = n
		}
		jobs, err := schedule.NewReconciler(cfg.CronFile).NextRuns(count)
		if err != nil {
			ui.Error(fmt.Sprintf("Error loading jobs: %v", err))
			os.Exit(1)
		}
		ui.DisplayNextRuns(jobs)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs [count]",
	Short: "Show recent recorded job runs",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		count := 10
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				ui.Error(fmt.Sprintf("invalid count: %s", args[0]))
				os.Exit(1)
			}
			count = n
		}
		runs, err := schedule.NewReconciler(cfg.CronFile).RecentRuns(count)
		if err != nil {
			ui.Error(fmt.Sprintf("Error loading jobs: %v", err))
			os.Exit(1)
		}
		ui.DisplayRecentRuns(runs)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Persist current daily summaries to the history database",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		days, err := newAggregator().Summary(ctx, time.Time{}, time.Time{})
		if err != nil {
			ui.Error(fmt.Sprintf("Error computing summary: %v", err))
			os.Exit(1)
		}

		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0755); err != nil {
			ui.Error(fmt.Sprintf("Error creating database directory: %v", err))
			os.Exit(1)
		}
		db, err := history.Open(cfg.Database)
		if err != nil {
			ui.Error(fmt.Sprintf("Error opening database: %v", err))
			os.Exit(1)
		}
		defer db.Close()

		id, err := db.Snapshot(ctx, days)
		if err != nil {
			ui.Error(fmt.Sprintf("Error writing snapshot: %v", err))
			os.Exit(1)
		}
		fmt.Printf("Snapshot %s: %d daily summaries persisted\n", id, len(days))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [days]",
	Short: "Show persisted daily summaries from the history database",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := daysArg(args)
		if err != nil {
			ui.Error(err.Error())
			os.Exit(1)
		}
		since := time.Now().UTC().AddDate(0, 0, -(n - 1)).Format("2006-01-02")

		db, err := history.Open(cfg.Database)
		if err != nil {
			ui.Error(fmt.Sprintf("Error opening database: %v", err))
			os.Exit(1)
		}
		defer db.Close()

		ctx := context.Background()
		rows, err := db.GetDailySummaries(ctx, since)
		if err != nil {
			ui.Error(fmt.Sprintf("Error reading history: %v", err))
			os.Exit(1)
		}

		days := make([]stats.DailyAggregate, 0, len(rows))
		for _, r := range rows {
			days = append(days, stats.DailyAggregate{
				Date: r.Date,
				Subtotal: stats.Subtotal{
					InputTokens:      r.InputTokens,
					OutputTokens:     r.OutputTokens,
					CacheReadTokens:  r.CacheReadTokens,
					CacheWriteTokens: r.CacheWriteTokens,
					TotalTokens:      r.TotalTokens,
					Cost:             r.Cost,
					MessageCount:     r.MessageCount,
					RecordCount:      r.RecordCount,
				},
			})
		}
		ui.DisplaySummary(days)

		if id, at, err := db.LastSnapshot(ctx); err == nil && id != "" {
			fmt.Printf("\n  Last snapshot: %s at %s\n", id, ui.FormatDateTime(time.Unix(at, 0).UTC()))
		}
	},
}

var watchInterval int

// watchTick validates the refresh interval flag; the ticker panics on a
// non-positive duration.
func watchTick(seconds int) (time.Duration, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("invalid interval: %d", seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically refresh today's usage and upcoming jobs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		interval, err := watchTick(watchInterval)
		if err != nil {
			ui.Error(err.Error())
			os.Exit(1)
		}

		agg := newAggregator()
		rec := schedule.NewReconciler(cfg.CronFile)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		render := func() {
			fmt.Print("\033[H\033[2J") // clear screen
			day, err := agg.Today(ctx)
			if err != nil {
				ui.Error(fmt.Sprintf("Error computing today: %v", err))
				return
			}
			skipped, _ := agg.SkippedLines(ctx)
			ui.DisplayToday(day, skipped)

			jobs, err := rec.NextRuns(5)
			if err != nil {
				ui.Error(fmt.Sprintf("Error loading jobs: %v", err))
				return
			}
			ui.DisplayNextRuns(jobs)
			fmt.Printf("\n  Refreshing every %s. Ctrl-C to quit.\n", interval)
		}

		render()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return
			case <-ticker.C:
				render()
			}
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (default: ~/.openclaw-stats/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&fresh, "fresh", false, "Drop cached results before answering")
	watchCmd.Flags().IntVarP(&watchInterval, "interval", "i", 10, "Refresh interval in seconds")
	sessionsCmd.Flags().IntVarP(&sessionLimit, "limit", "l", 0, "Max sessions to show (default: configured session_limit)")
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(todayCmd)
	rootCmd.AddCommand(totalCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
}
