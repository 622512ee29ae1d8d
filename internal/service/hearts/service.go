package hearts

import (
	"context"
	"fmt"
	"time"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/config"
	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// maxWriteAttempts bounds compare-and-set retries under concurrent updates.
const maxWriteAttempts = 3

// LearnerRepository is the storage the hearts service needs.
type LearnerRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Learner, error)
	CompareAndSetHearts(ctx context.Context, id uint, expected, hearts int, lastLoss *time.Time) (bool, error)
	ConsumeHeart(ctx context.Context, id uint, now time.Time, dedupKey string, delta *models.ProgressDelta) (lost, duplicate bool, err error)
	GrantHeart(ctx context.Context, id uint, maxHearts int, now, cooldownCutoff time.Time) (bool, error)
}

// Status is what callers display: current hearts and the next regeneration.
type Status struct {
	Hearts                int           `json:"hearts"`
	MaxHearts             int           `json:"max_hearts"`
	NextRecoveryTime      *time.Time    `json:"next_recovery_time"`
	SecondsUntilNextHeart int64         `json:"seconds_until_next_heart"`
	TimeUntilNextHeart    time.Duration `json:"-"`
}

// Service applies heart recovery and consumption to stored learners.
type Service struct {
	repo       LearnerRepository
	maxHearts  int
	interval   time.Duration
	adCooldown time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// NewService creates a new hearts service.
func NewService(repo *repository.LearnerRepository, cfg *config.HeartsConfig, log *logger.Logger) *Service {
	return NewServiceWithInterfaces(repo, cfg, log)
}

// NewServiceWithInterfaces creates a new hearts service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(repo LearnerRepository, cfg *config.HeartsConfig, log *logger.Logger) *Service {
	s := &Service{
		repo:       repo,
		maxHearts:  DefaultMaxHearts,
		interval:   DefaultRegenInterval,
		adCooldown: DefaultAdCooldown,
		now:        time.Now,
		log:        log,
	}
	if cfg != nil {
		if cfg.Max > 0 {
			s.maxHearts = cfg.Max
		}
		if cfg.RegenInterval > 0 {
			s.interval = cfg.RegenInterval
		}
		if cfg.AdCooldown >= 0 {
			s.adCooldown = cfg.AdCooldown
		}
	}
	return s
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ApplyRecovery credits regenerated hearts and returns the resulting status.
// Nothing is written when no heart has regenerated.
func (s *Service) ApplyRecovery(ctx context.Context, learnerID uint) (*Status, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		learner, err := s.repo.GetByID(ctx, learnerID)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		rec := Calculate(learner.Hearts, learner.LastHeartLossAt, now, s.maxHearts, s.interval)

		// Below max with no clock: start it so regeneration can begin.
		if learner.Hearts < s.maxHearts && learner.LastHeartLossAt == nil {
			ok, err := s.repo.CompareAndSetHearts(ctx, learnerID, learner.Hearts, learner.Hearts, &now)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			return s.status(learner.Hearts, rec), nil
		}

		if rec.HeartsToRecover == 0 {
			return s.status(min(learner.Hearts, s.maxHearts), rec), nil
		}

		hearts := min(learner.Hearts+rec.HeartsToRecover, s.maxHearts)
		var lastLoss *time.Time
		if hearts < s.maxHearts {
			// Carry the partial interval over to the next heart.
			advanced := learner.LastHeartLossAt.Add(time.Duration(rec.HeartsToRecover) * s.interval)
			lastLoss = &advanced
		}

		ok, err := s.repo.CompareAndSetHearts(ctx, learnerID, learner.Hearts, hearts, lastLoss)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Debug().Uint("learner_id", learnerID).Int("attempt", attempt+1).Msg("Hearts changed concurrently, retrying recovery")
			continue
		}

		prommetrics.RecordHeartsRecovered("timer", rec.HeartsToRecover)
		s.log.Debug().
			Uint("learner_id", learnerID).
			Int("recovered", rec.HeartsToRecover).
			Int("hearts", hearts).
			Msg("Hearts recovered")

		return s.status(hearts, rec), nil
	}

	return nil, fmt.Errorf("failed to apply heart recovery for learner %d: too many concurrent updates", learnerID)
}

// LoseHeart consumes one heart after crediting any pending recovery. At zero
// hearts it is a no-op.
func (s *Service) LoseHeart(ctx context.Context, learnerID uint) (*Status, error) {
	status, _, err := s.LoseHeartWith(ctx, learnerID, "", nil)
	return status, err
}

// LoseHeartWith is LoseHeart keyed by dedupKey, with delta committed in the
// same write. A replayed key changes nothing and reports duplicate.
func (s *Service) LoseHeartWith(ctx context.Context, learnerID uint, dedupKey string, delta *models.ProgressDelta) (*Status, bool, error) {
	if _, err := s.ApplyRecovery(ctx, learnerID); err != nil {
		return nil, false, err
	}

	lost, duplicate, err := s.repo.ConsumeHeart(ctx, learnerID, s.now().UTC(), dedupKey, delta)
	if err != nil {
		return nil, false, err
	}
	if lost {
		prommetrics.RecordHeartLost()
	}
	if duplicate {
		s.log.Debug().Uint("learner_id", learnerID).Str("dedup_key", dedupKey).Msg("Heart loss already recorded")
	}

	status, err := s.currentStatus(ctx, learnerID)
	if err != nil {
		return nil, false, err
	}
	return status, duplicate, nil
}

// GrantAdHeart adds exactly one heart, at most once per cooldown window.
func (s *Service) GrantAdHeart(ctx context.Context, learnerID uint) (*Status, error) {
	status, err := s.ApplyRecovery(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	if status.Hearts >= s.maxHearts {
		return nil, apperror.ErrHeartsFull
	}

	now := s.now().UTC()
	ok, err := s.repo.GrantHeart(ctx, learnerID, s.maxHearts, now, now.Add(-s.adCooldown))
	if err != nil {
		return nil, err
	}
	if !ok {
		learner, err := s.repo.GetByID(ctx, learnerID)
		if err != nil {
			return nil, err
		}
		if learner.Hearts >= s.maxHearts {
			return nil, apperror.ErrHeartsFull
		}
		if learner.LastAdHeartAt == nil {
			return nil, apperror.ErrCooldown
		}
		return nil, fmt.Errorf("%w: next ad heart available at %s",
			apperror.ErrCooldown, learner.LastAdHeartAt.Add(s.adCooldown).Format(time.RFC3339))
	}

	prommetrics.RecordHeartsRecovered("ad", 1)
	s.log.Info().Uint("learner_id", learnerID).Msg("Ad heart granted")

	return s.currentStatus(ctx, learnerID)
}

func (s *Service) currentStatus(ctx context.Context, learnerID uint) (*Status, error) {
	learner, err := s.repo.GetByID(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	rec := Calculate(learner.Hearts, learner.LastHeartLossAt, s.now().UTC(), s.maxHearts, s.interval)
	return s.status(learner.Hearts, rec), nil
}

func (s *Service) status(hearts int, rec Recovery) *Status {
	return &Status{
		Hearts:                hearts,
		MaxHearts:             s.maxHearts,
		NextRecoveryTime:      rec.NextRecoveryTime,
		SecondsUntilNextHeart: int64(rec.TimeUntilNextHeart.Round(time.Second) / time.Second),
		TimeUntilNextHeart:    rec.TimeUntilNextHeart,
	}
}
