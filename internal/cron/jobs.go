// Package cron runs the periodic maintenance jobs: idle session cleanup and
// the compaction sweep. Jobs can also be triggered from the admin API.
package cron

import (
	"context"
	"fmt"
	"log/slog"
)

// Job is a named periodic task registered with a Scheduler.
type Job interface {
	// Name identifies the job in logs and in POST /admin/jobs/{name}/run.
	// It must be unique within a Scheduler.
	Name() string

	// Schedule is a 5-field cron expression such as "*/5 * * * *".
	Schedule() string

	// Run performs one pass. It returns early when ctx is done.
	Run(ctx context.Context) error
}

// SessionPruner deletes sessions idle past their TTL and returns their IDs.
type SessionPruner interface {
	PruneIdle(ctx context.Context) []string
}

// CompactionSweeper schedules compaction for every session whose trigger
// has fired and returns how many were scheduled.
type CompactionSweeper interface {
	SweepCompactions() int
}

// SessionCleanupJob evicts idle sessions.
type SessionCleanupJob struct {
	Sessions     SessionPruner
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

var _ Job = (*SessionCleanupJob)(nil)

// Name implements Job.
func (j *SessionCleanupJob) Name() string { return "session_cleanup" }

// Schedule implements Job.
func (j *SessionCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run prunes idle sessions.
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: session cleanup cancelled: %w", ctx.Err())
	}
	if pruned := j.Sessions.PruneIdle(ctx); len(pruned) > 0 {
		j.Logger.Info("cron: pruned idle sessions", "count", len(pruned))
	}
	return nil
}

// CompactionSweepJob retries compaction for sessions left over threshold,
// for example after a failed summarization.
type CompactionSweepJob struct {
	Sweeper      CompactionSweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/15 * * * *"
}

var _ Job = (*CompactionSweepJob)(nil)

// Name implements Job.
func (j *CompactionSweepJob) Name() string { return "compaction_sweep" }

// Schedule implements Job.
func (j *CompactionSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/15 * * * *"
}

// Run schedules the pending compactions. It does not wait for them.
func (j *CompactionSweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: compaction sweep cancelled: %w", ctx.Err())
	}
	if n := j.Sweeper.SweepCompactions(); n > 0 {
		j.Logger.Info("cron: scheduled pending compactions", "count", n)
	}
	return nil
}
