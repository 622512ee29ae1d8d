// Package reconcile checks that every learner's cached total_xp equals the
// sum of their ledger events and repairs drift.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// LedgerRepository sums the ledger.
type LedgerRepository interface {
	SumByLearner(ctx context.Context) (map[uint]int64, error)
}

// LearnerRepository reads and repairs cached totals.
type LearnerRepository interface {
	ListTotals(ctx context.Context) (map[uint]int64, error)
	RecomputeTotalXP(ctx context.Context, id uint) error
}

// Drift is one learner whose cached total disagrees with the ledger.
type Drift struct {
	LearnerID uint  `json:"learner_id"`
	Cached    int64 `json:"cached"`
	Ledger    int64 `json:"ledger"`
}

// Report summarizes a reconciliation run.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Learners  int           `json:"learners"`
	Drifted   []Drift       `json:"drifted"`
	Fixed     int           `json:"fixed"`
}

// Service runs reconciliation.
type Service struct {
	ledger   LedgerRepository
	learners LearnerRepository
	log      *logger.Logger
}

// NewService creates a new reconciliation service.
func NewService(ledger *repository.XPRepository, learners *repository.LearnerRepository, log *logger.Logger) *Service {
	return NewServiceWithInterfaces(ledger, learners, log)
}

// NewServiceWithInterfaces creates a new reconciliation service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(ledger LedgerRepository, learners LearnerRepository, log *logger.Logger) *Service {
	return &Service{ledger: ledger, learners: learners, log: log}
}

// Run compares cached totals with ledger sums. With fix set, drifted totals
// are recomputed from the ledger; a learner that fails to fix is logged and
// stays in the report as unfixed.
func (s *Service) Run(ctx context.Context, fix bool) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	s.log.Info().Bool("fix", fix).Msg("Starting XP reconciliation")

	totals, err := s.learners.ListTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list learner totals: %w", err)
	}

	sums, err := s.ledger.SumByLearner(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}

	report.Learners = len(totals)

	for id, cached := range totals {
		if sum := sums[id]; sum != cached {
			report.Drifted = append(report.Drifted, Drift{LearnerID: id, Cached: cached, Ledger: sum})
		}
	}
	sort.Slice(report.Drifted, func(i, j int) bool {
		return report.Drifted[i].LearnerID < report.Drifted[j].LearnerID
	})

	for _, d := range report.Drifted {
		s.log.Warn().
			Uint("learner_id", d.LearnerID).
			Int64("cached", d.Cached).
			Int64("ledger", d.Ledger).
			Msg("XP total drift detected")

		if !fix {
			continue
		}
		if err := s.learners.RecomputeTotalXP(ctx, d.LearnerID); err != nil {
			s.log.Error().
				Err(err).
				Uint("learner_id", d.LearnerID).
				Msg("Failed to repair XP total")
			continue
		}
		report.Fixed++
	}

	prommetrics.SetReconcileDrift(len(report.Drifted) - report.Fixed)
	report.Duration = time.Since(report.StartedAt)

	s.log.Info().
		Int("learners", report.Learners).
		Int("drifted", len(report.Drifted)).
		Int("fixed", report.Fixed).
		Dur("duration", report.Duration).
		Msg("XP reconciliation completed")

	return report, nil
}
