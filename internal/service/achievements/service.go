// Package achievements evaluates unlock criteria and records unlocks
// idempotently.
package achievements

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aimd54/lingo-progression/internal/apperror"
	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// Repository interface for achievement operations.
type Repository interface {
	GetActive(ctx context.Context) ([]models.AchievementDefinition, error)
	GetByCode(ctx context.Context, code string) (*models.AchievementDefinition, error)
	UnlockedIDs(ctx context.Context, learnerID uint) (map[uint]struct{}, error)
	Unlock(ctx context.Context, learnerID, achievementID uint, at time.Time, reward *models.XPEvent) (bool, error)
	GetUnlocks(ctx context.Context, learnerID uint) ([]models.AchievementUnlock, error)
	UpsertByCode(ctx context.Context, def *models.AchievementDefinition) error
	DeactivateMissing(ctx context.Context, codes []string) (int64, error)
	HoldersCount(ctx context.Context, achievementID uint) (int64, error)
}

// LearnerRepository interface for learner lookups.
type LearnerRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Learner, error)
}

// UnlockResult describes a newly unlocked achievement for display.
type UnlockResult struct {
	AchievementID uint      `json:"achievement_id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon"`
	XPReward      int64     `json:"xp_reward"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// SyncReport summarizes a catalog sync.
type SyncReport struct {
	Upserted    int   `json:"upserted"`
	Deactivated int64 `json:"deactivated"`
}

// Service handles achievement evaluation and unlocking.
type Service struct {
	repo        Repository
	learnerRepo LearnerRepository
	registry    *Registry
	now         func() time.Time
	log         *logger.Logger
}

// NewService creates a new achievement service.
func NewService(
	repo *repository.AchievementRepository,
	learnerRepo *repository.LearnerRepository,
	registry *Registry,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(repo, learnerRepo, registry, log)
}

// NewServiceWithInterfaces creates a new achievement service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	repo Repository,
	learnerRepo LearnerRepository,
	registry *Registry,
	log *logger.Logger,
) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		repo:        repo,
		learnerRepo: learnerRepo,
		registry:    registry,
		now:         time.Now,
		log:         log,
	}
}

// Registry returns the predicate registry for custom registrations.
func (s *Service) Registry() *Registry {
	return s.registry
}

// CheckAndUnlock evaluates every active achievement the learner does not
// hold yet and unlocks those whose criteria are met. Each unlock and its XP
// reward are committed together; concurrent callers unlock at most once.
// A failing criterion or unlock is logged and does not stop the others.
func (s *Service) CheckAndUnlock(ctx context.Context, learnerID uint, c Context) ([]UnlockResult, error) {
	if !c.Trigger.Valid() {
		return nil, apperror.Invalid("unknown trigger %q", c.Trigger)
	}

	learner, err := s.learnerRepo.GetByID(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	defs, err := s.repo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get achievements: %w", err)
	}

	held, err := s.repo.UnlockedIDs(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unlocked achievements: %w", err)
	}

	var results []UnlockResult
	for i := range defs {
		def := &defs[i]
		if _, ok := held[def.ID]; ok {
			continue
		}

		predicate, ok := s.registry.Lookup(def)
		if !ok {
			s.log.Debug().
				Str("code", def.Code).
				Str("kind", string(def.Criteria.Kind)).
				Msg("No predicate registered for achievement, skipping")
			continue
		}

		satisfied, err := predicate(ctx, Input{Learner: learner, Context: c}, def)
		if err != nil {
			prommetrics.RecordAchievementEvaluationError(def.Code)
			s.log.Error().
				Err(err).
				Uint("learner_id", learnerID).
				Str("code", def.Code).
				Msg("Failed to evaluate achievement")
			continue
		}
		if !satisfied {
			continue
		}

		unlockedAt := s.now().UTC()
		created, err := s.repo.Unlock(ctx, learnerID, def.ID, unlockedAt, rewardEvent(learnerID, def))
		if err != nil {
			s.log.Error().
				Err(err).
				Uint("learner_id", learnerID).
				Str("code", def.Code).
				Msg("Failed to unlock achievement")
			continue
		}
		if !created {
			// Another request unlocked it first.
			continue
		}

		// Later criteria in this pass see the reward.
		learner.TotalXP += def.XPReward

		prommetrics.RecordAchievementUnlocked(def.Code)
		s.log.Info().
			Uint("learner_id", learnerID).
			Str("code", def.Code).
			Int64("xp_reward", def.XPReward).
			Str("trigger", string(c.Trigger)).
			Msg("Achievement unlocked")

		results = append(results, UnlockResult{
			AchievementID: def.ID,
			Code:          def.Code,
			Name:          def.Name,
			Description:   def.Description,
			Icon:          def.Icon,
			XPReward:      def.XPReward,
			UnlockedAt:    unlockedAt,
		})
	}

	return results, nil
}

// rewardEvent builds the XP event for def's reward, or nil when there is none.
func rewardEvent(learnerID uint, def *models.AchievementDefinition) *models.XPEvent {
	if def.XPReward == 0 {
		return nil
	}
	key := "achievement:" + strconv.FormatUint(uint64(def.ID), 10)
	return &models.XPEvent{
		LearnerID:   learnerID,
		Amount:      def.XPReward,
		Source:      models.XPSourceAchievement,
		SourceID:    def.Code,
		Description: "Achievement unlocked: " + def.Name,
		DedupKey:    &key,
	}
}

// ListUnlocked returns the learner's unlocks, most recent first.
func (s *Service) ListUnlocked(ctx context.Context, learnerID uint) ([]models.AchievementUnlock, error) {
	if _, err := s.learnerRepo.GetByID(ctx, learnerID); err != nil {
		return nil, err
	}
	return s.repo.GetUnlocks(ctx, learnerID)
}

// ListActive returns the active catalog.
func (s *Service) ListActive(ctx context.Context) ([]models.AchievementDefinition, error) {
	return s.repo.GetActive(ctx)
}

// GetDefinition returns one definition by code.
func (s *Service) GetDefinition(ctx context.Context, code string) (*models.AchievementDefinition, error) {
	if code == "" {
		return nil, apperror.Invalid("achievement code is required")
	}
	return s.repo.GetByCode(ctx, code)
}

// SyncCatalog upserts defs by code and deactivates definitions absent from
// defs. Expression criteria are compiled first so a bad catalog is rejected
// before anything is written.
func (s *Service) SyncCatalog(ctx context.Context, defs []models.AchievementDefinition) (*SyncReport, error) {
	evaluator := NewExpressionEvaluator()
	for i := range defs {
		if defs[i].Criteria.Kind == models.CriteriaExpression {
			if _, err := evaluator.Compile(defs[i].Criteria.Expr); err != nil {
				return nil, apperror.Invalid("achievement %s: %v", defs[i].Code, err)
			}
		}
	}

	report := &SyncReport{}
	codes := make([]string, 0, len(defs))
	for i := range defs {
		if err := s.repo.UpsertByCode(ctx, &defs[i]); err != nil {
			return report, err
		}
		codes = append(codes, defs[i].Code)
		report.Upserted++
	}

	deactivated, err := s.repo.DeactivateMissing(ctx, codes)
	if err != nil {
		return report, err
	}
	report.Deactivated = deactivated

	s.log.Info().
		Int("upserted", report.Upserted).
		Int64("deactivated", report.Deactivated).
		Msg("Achievement catalog synced")

	return report, nil
}

// UpdateHolderMetrics refreshes the holder gauge of every active achievement.
func (s *Service) UpdateHolderMetrics(ctx context.Context) error {
	defs, err := s.repo.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to get achievements: %w", err)
	}

	for _, def := range defs {
		count, err := s.repo.HoldersCount(ctx, def.ID)
		if err != nil {
			s.log.Error().Err(err).Str("code", def.Code).Msg("Failed to count achievement holders")
			continue
		}
		prommetrics.SetActiveAchievementHolders(def.Code, count)
	}
	return nil
}
