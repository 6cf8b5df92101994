// Package scheduler runs IntakePipe's periodic maintenance on cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/robfig/cron/v3"
)

// Default maintenance schedules.
const (
	DefaultDedupPruneSpec    = "@every 1h"
	DefaultOutboxRecoverSpec = "@every 5m"
)

// Job is one unit of maintenance work.
type Job func(ctx context.Context) error

// Scheduler provides cron-based job scheduling. Jobs receive the context passed to Run.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler creates a stopped scheduler. Panicking jobs are recovered and logged.
func NewScheduler() *Scheduler {
	// Standard 5-field parser plus descriptors such as @every.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c, ctx: context.Background()}
}

// AddJob schedules job under name using expr. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr, name string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			slog.Error("Scheduler: job failed", "job", name, "error", err)
			return
		}
		slog.Debug("Scheduler: job done", "job", name, "duration", time.Since(start))
	})
	if err == nil {
		slog.Debug("Scheduler.AddJob: scheduled", "job", name, "spec", expr)
	}
	return err
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("Scheduler.Run: stopped")
}

// PruneDedupJob deletes dedup records older than ttl.
func PruneDedupJob(p store.DedupPruner, ttl time.Duration) Job {
	return func(ctx context.Context) error {
		n, err := p.PruneDedup(ctx, time.Now().Add(-ttl))
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("Scheduler: pruned dedup records", "count", n)
		}
		return nil
	}
}

// RecoverOutboxJob requeues outbox messages abandoned mid-send.
func RecoverOutboxJob(sender *store.OutboxSender) Job {
	return sender.RecoverStaleMessages
}
