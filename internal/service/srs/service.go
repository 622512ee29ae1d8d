package srs

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/config"
	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

const defaultSessionSize = 20

// Repository is the storage the review service needs.
type Repository interface {
	Get(ctx context.Context, learnerID, cardID uint) (*models.ReviewState, error)
	Save(ctx context.Context, state *models.ReviewState) error
	ListByLearner(ctx context.Context, learnerID uint) ([]models.ReviewState, error)
}

// LearnerRepository resolves the learner a review belongs to.
type LearnerRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Learner, error)
}

// Service records reviews and builds review sessions.
type Service struct {
	repo        Repository
	learners    LearnerRepository
	params      Params
	sessionSize int
	now         func() time.Time
	log         *logger.Logger
}

// NewService creates a new review service.
func NewService(repo *repository.ReviewStateRepository, learners *repository.LearnerRepository, cfg *config.SRSConfig, log *logger.Logger) *Service {
	return NewServiceWithInterfaces(repo, learners, cfg, log)
}

// NewServiceWithInterfaces creates a new review service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(repo Repository, learners LearnerRepository, cfg *config.SRSConfig, log *logger.Logger) *Service {
	s := &Service{
		repo:        repo,
		learners:    learners,
		params:      DefaultParams(),
		sessionSize: defaultSessionSize,
		now:         time.Now,
		log:         log,
	}
	if cfg != nil {
		if cfg.EasySecondInterval > 0 {
			s.params.EasySecondInterval = cfg.EasySecondInterval
		}
		if cfg.EasyBonus >= 1 {
			s.params.EasyBonus = cfg.EasyBonus
		}
		if cfg.MaxIntervalDays > 0 {
			s.params.MaxIntervalDays = cfg.MaxIntervalDays
		}
		if cfg.SessionSize > 0 {
			s.sessionSize = cfg.SessionSize
		}
	}
	return s
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SubmitReview applies a review of the card and persists the new state.
// The first review of a card starts from a fresh state. Unknown learners
// are ErrNotFound.
func (s *Service) SubmitReview(ctx context.Context, learnerID, cardID uint, quality int) (*models.ReviewState, error) {
	if learnerID == 0 || cardID == 0 {
		return nil, apperror.Invalid("learner id and card id are required")
	}
	if _, err := s.learners.GetByID(ctx, learnerID); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	state, err := s.repo.Get(ctx, learnerID, cardID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		fresh := NewState(learnerID, cardID, now)
		state = &fresh
	case err != nil:
		return nil, err
	}

	res, err := ScheduleNextReview(quality, state.Interval, state.EaseFactor, state.Repetitions, s.params)
	if err != nil {
		return nil, err
	}

	state.Interval = res.Interval
	state.EaseFactor = res.EaseFactor
	state.Repetitions = res.Repetitions
	state.LastQuality = quality
	state.LastReviewedAt = &now
	state.NextReviewAt = now.AddDate(0, 0, res.Interval)

	if err := s.repo.Save(ctx, state); err != nil {
		return nil, err
	}

	prommetrics.RecordReviewSubmitted(strconv.Itoa(quality), res.Interval)

	s.log.Debug().
		Uint("learner_id", learnerID).
		Uint("card_id", cardID).
		Int("quality", quality).
		Int("interval", res.Interval).
		Float64("ease_factor", res.EaseFactor).
		Msg("Review scheduled")

	return state, nil
}

// DueCards returns up to limit cards due now, highest priority first.
// A limit of 0 uses the configured session size.
func (s *Service) DueCards(ctx context.Context, learnerID uint, limit int) ([]models.ReviewState, error) {
	if learnerID == 0 {
		return nil, apperror.Invalid("learner id is required")
	}
	if limit <= 0 {
		limit = s.sessionSize
	}

	states, err := s.repo.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	due := slices.Collect(GetDueCards(states, s.now()))
	Prioritize(due)

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// NextDueCard returns the highest priority due card, or nil when nothing
// is due.
func (s *Service) NextDueCard(ctx context.Context, learnerID uint) (*models.ReviewState, error) {
	due, err := s.DueCards(ctx, learnerID, 1)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}
	return &due[0], nil
}
