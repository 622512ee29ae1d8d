package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/lingo-progression/internal/models"
)

// AchievementRepository handles achievement catalog and unlock operations.
type AchievementRepository struct {
	db *DB
}

// NewAchievementRepository creates a new achievement repository.
func NewAchievementRepository(db *DB) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// Create creates a new achievement definition.
func (r *AchievementRepository) Create(ctx context.Context, def *models.AchievementDefinition) error {
	if err := r.db.WithContext(ctx).Create(def).Error; err != nil {
		return fmt.Errorf("failed to create achievement %s: %w", def.Code, err)
	}
	return nil
}

// UpsertByCode inserts def or updates the existing definition with the same
// code. def.ID is populated either way.
func (r *AchievementRepository) UpsertByCode(ctx context.Context, def *models.AchievementDefinition) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "icon", "criteria", "xp_reward", "is_active", "updated_at"}),
	}).Create(def).Error
	if err != nil {
		return fmt.Errorf("failed to upsert achievement %s: %w", def.Code, err)
	}

	if def.ID == 0 {
		var stored models.AchievementDefinition
		if err := r.db.WithContext(ctx).Where("code = ?", def.Code).First(&stored).Error; err != nil {
			return notFound(err, "achievement", def.Code)
		}
		def.ID = stored.ID
	}
	return nil
}

// GetByCode retrieves a definition by its code.
func (r *AchievementRepository) GetByCode(ctx context.Context, code string) (*models.AchievementDefinition, error) {
	var def models.AchievementDefinition
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&def).Error; err != nil {
		return nil, notFound(err, "achievement", code)
	}
	return &def, nil
}

// GetActive returns all active definitions in catalog order.
func (r *AchievementRepository) GetActive(ctx context.Context) ([]models.AchievementDefinition, error) {
	var defs []models.AchievementDefinition
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&defs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active achievements: %w", err)
	}
	return defs, nil
}

// DeactivateMissing marks every definition whose code is not in codes as
// inactive and returns how many rows changed.
func (r *AchievementRepository) DeactivateMissing(ctx context.Context, codes []string) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AchievementDefinition{}).Where("is_active = ?", true)
	if len(codes) > 0 {
		query = query.Where("code NOT IN ?", codes)
	}
	res := query.Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to deactivate achievements: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UnlockedIDs returns the set of achievement ids the learner holds.
func (r *AchievementRepository) UnlockedIDs(ctx context.Context, learnerID uint) (map[uint]struct{}, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.AchievementUnlock{}).
		Where("learner_id = ?", learnerID).
		Pluck("achievement_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks for learner %d: %w", learnerID, err)
	}

	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Unlock records the unlock and, when reward is non-nil, appends the reward
// XP event in the same transaction. It returns false without error when the
// learner already holds the achievement.
func (r *AchievementRepository) Unlock(ctx context.Context, learnerID, achievementID uint, at time.Time, reward *models.XPEvent) (bool, error) {
	unlocked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unlock := &models.AchievementUnlock{
			LearnerID:     learnerID,
			AchievementID: achievementID,
			UnlockedAt:    at,
		}
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(unlock)
		if res.Error != nil {
			return fmt.Errorf("failed to insert unlock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if reward != nil {
			if _, _, err := appendXPTx(tx, reward); err != nil {
				return err
			}
		}
		unlocked = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to unlock achievement %d for learner %d: %w", achievementID, learnerID, err)
	}
	return unlocked, nil
}

// GetUnlocks retrieves the learner's unlocks with definitions preloaded,
// most recent first.
func (r *AchievementRepository) GetUnlocks(ctx context.Context, learnerID uint) ([]models.AchievementUnlock, error) {
	var unlocks []models.AchievementUnlock
	err := r.db.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Preload("Achievement").
		Order("unlocked_at DESC, id DESC").
		Find(&unlocks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get unlocks for learner %d: %w", learnerID, err)
	}
	return unlocks, nil
}

// HoldersCount returns the number of learners holding an achievement.
func (r *AchievementRepository) HoldersCount(ctx context.Context, achievementID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AchievementUnlock{}).
		Where("achievement_id = ?", achievementID).
		Count(&count).Error
	return count, err
}
