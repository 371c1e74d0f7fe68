/**
 * @description
 * Scheduled job implementations and cron wiring for the donation-service.
 * The only recurring job is commission balance reconciliation: the cached
 * wallet balance on each user is rebuilt from the ledger, so a crash between
 * ledger insert and wallet credit self-heals on the next run.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service *Service
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, logger *slog.Logger) *Jobs {
	return &Jobs{service: service, logger: logger}
}

// ReconcileCommissionBalances resyncs every user's cached wallet balance with
// the sum of their PENDING and PAID ledger entries.
func (j *Jobs) ReconcileCommissionBalances() {
	j.logger.Info("starting commission balance reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	corrected, err := j.service.repo.ReconcileCommissionBalances(ctx)
	if err != nil {
		j.logger.Error("commission balance reconciliation failed", "error", err)
		return
	}

	if corrected > 0 {
		j.logger.Warn("corrected drifted commission balances", "count", corrected)
	}
	j.logger.Info("commission balance reconciliation job finished", "corrected", corrected)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger

	reconcileSchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, reconcileSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:              c,
		jobs:              jobs,
		logger:            logger,
		reconcileSchedule: reconcileSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.reconcileSchedule, s.jobs.ReconcileCommissionBalances); err != nil {
		s.logger.Error("failed to schedule balance reconciliation job", "error", err)
	} else {
		s.logger.Info("scheduled balance reconciliation job", "schedule", s.reconcileSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
