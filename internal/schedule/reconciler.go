// Package schedule reads externally-owned cron job definitions and computes
// live status: next occurrence per schedule, recent run history. The
// definitions file is reloaded wholesale on every pass; next-run times are
// recomputed against the current clock, never cached, since a stale next-run
// understates urgency.
package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// Status is a job's reconciled health.
type Status string

const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Job is one reconciled cron job.
type Job struct {
	ID             string
	Name           string
	Enabled        bool
	Kind           string // "cron", "every" or "at"
	Expr           string
	TZ             string
	LastRun        *time.Time
	LastOutcome    string
	LastDurationMs int64
	NextRun        *time.Time
	Status         Status
}

// Run is one recorded job execution.
type Run struct {
	JobID      string
	Name       string
	At         time.Time
	Outcome    string
	DurationMs int64
}

// rawDocument mirrors the on-disk jobs file.
type rawDocument struct {
	Jobs []rawJob `json:"jobs"`
}

type rawJob struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Enabled  *bool       `json:"enabled"`
	Schedule rawSchedule `json:"schedule"`
	State    rawState    `json:"state"`
}

type rawSchedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr"`
	TZ      string `json:"tz"`
	EveryMs int64  `json:"everyMs"`
	AtMs    int64  `json:"atMs"`
}

type rawState struct {
	LastRunAtMs    int64  `json:"lastRunAtMs"`
	LastStatus     string `json:"lastStatus"`
	LastDurationMs int64  `json:"lastDurationMs"`
}

// Reconciler loads job definitions from a single jobs file.
type Reconciler struct {
	path string
	now  func() time.Time
}

func NewReconciler(path string) *Reconciler {
	return &Reconciler{path: path, now: time.Now}
}

// Load reads the definitions fresh and reconciles each job. A missing file
// means no jobs, not a fault. A job with a malformed schedule is retained
// with StatusError and no next run; it never aborts the pass.
func (r *Reconciler) Load() ([]Job, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}

	now := r.now()
	jobs := make([]Job, 0, len(doc.Jobs))
	for _, raw := range doc.Jobs {
		jobs = append(jobs, reconcile(raw, now))
	}
	return jobs, nil
}

// NextRuns returns up to count enabled jobs ordered by next run ascending.
func (r *Reconciler) NextRuns(count int) ([]Job, error) {
	jobs, err := r.Load()
	if err != nil {
		return nil, err
	}
	var upcoming []Job
	for _, j := range jobs {
		if j.Enabled && j.NextRun != nil {
			upcoming = append(upcoming, j)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool {
		if !upcoming[i].NextRun.Equal(*upcoming[j].NextRun) {
			return upcoming[i].NextRun.Before(*upcoming[j].NextRun)
		}
		return upcoming[i].ID < upcoming[j].ID
	})
	if count > 0 && len(upcoming) > count {
		upcoming = upcoming[:count]
	}
	return upcoming, nil
}

// RecentRuns returns up to count recorded runs across all jobs, disabled
// included, ordered by run time descending.
func (r *Reconciler) RecentRuns(count int) ([]Run, error) {
	jobs, err := r.Load()
	if err != nil {
		return nil, err
	}
	var runs []Run
	for _, j := range jobs {
		if j.LastRun == nil {
			continue
		}
		runs = append(runs, Run{
			JobID:      j.ID,
			Name:       j.Name,
			At:         *j.LastRun,
			Outcome:    j.LastOutcome,
			DurationMs: j.LastDurationMs,
		})
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].At.Equal(runs[j].At) {
			return runs[i].At.After(runs[j].At)
		}
		return runs[i].JobID < runs[j].JobID
	})
	if count > 0 && len(runs) > count {
		runs = runs[:count]
	}
	return runs, nil
}

func reconcile(raw rawJob, now time.Time) Job {
	j := Job{
		ID:             raw.ID,
		Name:           raw.Name,
		Enabled:        raw.Enabled == nil || *raw.Enabled,
		Kind:           raw.Schedule.Kind,
		TZ:             raw.Schedule.TZ,
		LastOutcome:    raw.State.LastStatus,
		LastDurationMs: raw.State.LastDurationMs,
		Status:         StatusOK,
	}
	if j.Name == "" {
		j.Name = "unnamed"
	}
	if raw.State.LastRunAtMs > 0 {
		t := time.UnixMilli(raw.State.LastRunAtMs).UTC()
		j.LastRun = &t
	}

	switch raw.Schedule.Kind {
	case "cron":
		j.Expr = raw.Schedule.Expr
		next, err := nextCron(raw.Schedule.Expr, raw.Schedule.TZ, now)
		if err != nil {
			j.Status = StatusError
			break
		}
		j.NextRun = &next

	case "every":
		interval := time.Duration(raw.Schedule.EveryMs) * time.Millisecond
		j.Expr = "every " + interval.String()
		if interval <= 0 {
			j.Status = StatusError
			break
		}
		next := nextInterval(j.LastRun, interval, now)
		j.NextRun = &next

	case "at":
		at := time.UnixMilli(raw.Schedule.AtMs).UTC()
		j.Expr = "at " + at.Format("2006-01-02 15:04")
		if raw.Schedule.AtMs <= 0 {
			j.Status = StatusError
			break
		}
		// A one-shot in the past has no next run.
		if at.After(now) {
			j.NextRun = &at
		}

	default:
		j.Status = StatusError
	}

	if !j.Enabled {
		j.Status = StatusDisabled
		j.NextRun = nil
	}
	return j
}

// nextCron computes the first occurrence of a standard 5-field cron
// expression strictly after now, in the job's timezone if set.
func nextCron(expr, tz string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, err
		}
		now = now.In(loc)
	}
	return sched.Next(now), nil
}

// nextInterval advances a fixed-interval schedule past any missed slots:
// the result is the first multiple of the interval after the last run that
// lies strictly in the future. With no recorded run the job is due one
// interval from now.
func nextInterval(lastRun *time.Time, interval time.Duration, now time.Time) time.Time {
	if lastRun == nil {
		return now.Add(interval)
	}
	next := lastRun.Add(interval)
	if next.After(now) {
		return next
	}
	missed := int64(now.Sub(*lastRun) / interval)
	return lastRun.Add(time.Duration(missed+1) * interval)
}
