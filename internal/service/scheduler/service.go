// Package scheduler runs the periodic batch jobs: leaderboard re-ranking,
// XP reconciliation and achievement holder gauges.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aimd54/lingo-progression/internal/config"
	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/service/reconcile"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// Job names used in logs and metrics.
const (
	JobRerank    = "leaderboard_rerank"
	JobReconcile = "xp_reconcile"
	JobHolders   = "achievement_holders"
)

// jobTimeout bounds a single run so a stuck store does not pile up runs.
const jobTimeout = 10 * time.Minute

// Reranker re-ranks the current leaderboard partitions.
type Reranker interface {
	RecalculateCurrent(ctx context.Context) (int, error)
}

// Reconciler checks ledger totals.
type Reconciler interface {
	Run(ctx context.Context, fix bool) (*reconcile.Report, error)
}

// HolderCounter refreshes achievement holder gauges.
type HolderCounter interface {
	UpdateHolderMetrics(ctx context.Context) error
}

// Service handles cron scheduling of batch jobs.
type Service struct {
	config     *config.SchedulerConfig
	reranker   Reranker
	reconciler Reconciler
	holders    HolderCounter
	log        *logger.Logger
	cron       *cron.Cron
}

// NewService creates a new scheduler service. Any job dependency may be nil
// to leave that job out.
func NewService(cfg *config.SchedulerConfig, reranker Reranker, reconciler Reconciler, holders HolderCounter, log *logger.Logger) *Service {
	return &Service{
		config:     cfg,
		reranker:   reranker,
		reconciler: reconciler,
		holders:    holders,
		log:        log,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.log.Info().Msg("Scheduler is disabled in configuration")
		return nil
	}

	location, err := s.config.GetLocation()
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.Timezone, err)
	}

	s.cron = cron.New(cron.WithLocation(location))

	if s.reranker != nil {
		if err := s.register(JobRerank, s.config.RerankSchedule, s.rerank); err != nil {
			return err
		}
	}
	if s.reconciler != nil {
		if err := s.register(JobReconcile, s.config.ReconcileSchedule, s.reconcile); err != nil {
			return err
		}
	}
	if s.holders != nil {
		if err := s.register(JobHolders, s.config.ReconcileSchedule, s.holders.UpdateHolderMetrics); err != nil {
			return err
		}
	}

	s.cron.Start()

	s.log.Info().
		Str("timezone", s.config.Timezone).
		Int("jobs", len(s.cron.Entries())).
		Msg("Scheduler started successfully")

	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info().Msg("Scheduler stopped")
	}
}

func (s *Service) register(name, schedule string, fn func(context.Context) error) error {
	if err := validateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.RunJob(context.Background(), name, fn)
	})
	if err != nil {
		return fmt.Errorf("failed to register %s job: %w", name, err)
	}

	s.log.Info().
		Str("job", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// validateSchedule checks a standard five-field cron expression.
func validateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule is empty")
	}
	_, err := cron.ParseStandard(schedule)
	return err
}

// RunJob runs fn once with a timeout and records its outcome.
func (s *Service) RunJob(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()

	defer func() {
		prommetrics.ObserveSchedulerJobDuration(name, time.Since(start).Seconds())
		prommetrics.SetSchedulerLastRun(name)
	}()

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	s.log.Info().Str("job", name).Msg("Running scheduled job")

	if err := fn(ctx); err != nil {
		prommetrics.RecordSchedulerJobRun(name, "error")
		s.log.Error().
			Err(err).
			Str("job", name).
			Dur("duration", time.Since(start)).
			Msg("Scheduled job failed")
		return err
	}

	prommetrics.RecordSchedulerJobRun(name, "success")
	s.log.Info().
		Str("job", name).
		Dur("duration", time.Since(start)).
		Msg("Scheduled job completed successfully")

	return nil
}

func (s *Service) rerank(ctx context.Context) error {
	_, err := s.reranker.RecalculateCurrent(ctx)
	return err
}

func (s *Service) reconcile(ctx context.Context) error {
	_, err := s.reconciler.Run(ctx, s.config.ReconcileFix)
	return err
}
