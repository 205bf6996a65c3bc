/**
 * @description
 * Cron scheduler setup for the background jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig carries the cron expressions for each job.
type SchedulerConfig struct {
	RetryQueueSchedule         string
	SubscriptionExpirySchedule string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	// SkipIfStillRunning keeps a slow drain from overlapping with the next
	// tick; the task claim lease in the store covers multi-instance overlap.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.RetryQueueSchedule, s.jobs.ProcessRetryQueue); err != nil {
		s.logger.Error("failed to schedule retry queue job", "error", err)
	} else {
		s.logger.Info("scheduled retry queue job", "schedule", s.config.RetryQueueSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.SubscriptionExpirySchedule, s.jobs.ExpireLapsedSubscriptions); err != nil {
		s.logger.Error("failed to schedule subscription expiry job", "error", err)
	} else {
		s.logger.Info("scheduled subscription expiry job", "schedule", s.config.SubscriptionExpirySchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
