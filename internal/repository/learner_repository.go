package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/models"
)

// LearnerRepository handles learner aggregate operations.
type LearnerRepository struct {
	db *DB
}

// NewLearnerRepository creates a new learner repository.
func NewLearnerRepository(db *DB) *LearnerRepository {
	return &LearnerRepository{db: db}
}

// Create creates a new learner.
func (r *LearnerRepository) Create(ctx context.Context, learner *models.Learner) error {
	if err := r.db.WithContext(ctx).Create(learner).Error; err != nil {
		return fmt.Errorf("failed to create learner: %w", err)
	}
	return nil
}

// GetByID retrieves a learner by ID.
func (r *LearnerRepository) GetByID(ctx context.Context, id uint) (*models.Learner, error) {
	var learner models.Learner
	if err := r.db.WithContext(ctx).First(&learner, id).Error; err != nil {
		return nil, notFound(err, "learner", id)
	}
	return &learner, nil
}

// GetByExternalID retrieves a learner by the identity provider's ID.
func (r *LearnerRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Learner, error) {
	var learner models.Learner
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&learner).Error; err != nil {
		return nil, notFound(err, "learner", externalID)
	}
	return &learner, nil
}

// CompareAndSetHearts stores hearts and the loss clock only if the stored
// heart count still equals expected. It reports whether the row was written.
func (r *LearnerRepository) CompareAndSetHearts(ctx context.Context, id uint, expected, hearts int, lastLoss *time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Learner{}).
		Where("id = ? AND hearts = ?", id, expected).
		Updates(map[string]interface{}{
			"hearts":             hearts,
			"last_heart_loss_at": lastLoss,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to update hearts for learner %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ActionHeartLoss is the receipt action for a heart lost on a wrong answer.
const ActionHeartLoss = "heart_loss"

// ConsumeHeart removes one heart if any remain, starting the loss clock at
// now when it is not already running, and applies delta in the same
// transaction. A non-empty dedupKey already seen for this learner applies
// nothing and reports duplicate.
func (r *LearnerRepository) ConsumeHeart(ctx context.Context, id uint, now time.Time, dedupKey string, delta *models.ProgressDelta) (lost, duplicate bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := learnerExists(tx, id); err != nil {
			return err
		}

		if dedupKey != "" {
			receipt := &models.ActionReceipt{LearnerID: id, DedupKey: dedupKey, Action: ActionHeartLoss}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(receipt)
			if res.Error != nil {
				return wrapWrite(res.Error, id, "failed to record action receipt for learner %d", id)
			}
			if res.RowsAffected == 0 {
				duplicate = true
				return nil
			}
		}

		res := tx.Model(&models.Learner{}).
			Where("id = ? AND hearts > 0", id).
			Updates(map[string]interface{}{
				"hearts":             gorm.Expr("hearts - 1"),
				"last_heart_loss_at": gorm.Expr("COALESCE(last_heart_loss_at, ?)", now),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to decrement hearts for learner %d: %w", id, res.Error)
		}
		lost = res.RowsAffected == 1

		return applyProgressTx(tx, id, delta)
	})
	if err != nil {
		return false, false, err
	}
	return lost, duplicate, nil
}

// GrantHeart adds one heart when the learner is below maxHearts and the last
// grant is older than cooldownCutoff. Reaching maxHearts stops the loss clock.
func (r *LearnerRepository) GrantHeart(ctx context.Context, id uint, maxHearts int, now, cooldownCutoff time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Learner{}).
		Where("id = ? AND hearts < ? AND (last_ad_heart_at IS NULL OR last_ad_heart_at <= ?)", id, maxHearts, cooldownCutoff).
		Updates(map[string]interface{}{
			"hearts":             gorm.Expr("hearts + 1"),
			"last_ad_heart_at":   now,
			"last_heart_loss_at": gorm.Expr("CASE WHEN hearts + 1 >= ? THEN NULL ELSE last_heart_loss_at END", maxHearts),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to grant heart to learner %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// applyProgressTx applies delta to the learner inside an open transaction.
// A nil or empty delta is a no-op.
func applyProgressTx(tx *gorm.DB, id uint, delta *models.ProgressDelta) error {
	if delta == nil {
		return nil
	}

	updates := map[string]interface{}{}
	if delta.Lessons != 0 {
		updates["lessons_completed"] = gorm.Expr("lessons_completed + ?", delta.Lessons)
	}
	if delta.PerfectLessons != 0 {
		updates["perfect_lessons"] = gorm.Expr("perfect_lessons + ?", delta.PerfectLessons)
	}
	if delta.Exercises != 0 {
		updates["exercises_completed"] = gorm.Expr("exercises_completed + ?", delta.Exercises)
	}
	if st := delta.Streak; st != nil {
		updates["current_streak"] = st.Current
		updates["longest_streak"] = st.Longest
		updates["last_activity_date"] = st.Activity
	}
	if len(updates) == 0 {
		return nil
	}

	res := tx.Model(&models.Learner{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update progress for learner %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("learner", id)
	}
	return nil
}

// RecomputeTotalXP sets total_xp to the ledger sum in one statement, so an
// append committed concurrently is never lost. Only reconciliation uses it.
func (r *LearnerRepository) RecomputeTotalXP(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Learner{}).
		Where("id = ?", id).
		Update("total_xp", gorm.Expr("(SELECT COALESCE(SUM(amount), 0) FROM xp_events WHERE xp_events.learner_id = ?)", id))
	if res.Error != nil {
		return fmt.Errorf("failed to recompute total xp for learner %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("learner", id)
	}
	return nil
}

// ListTotals returns learner id -> cached total_xp.
func (r *LearnerRepository) ListTotals(ctx context.Context) (map[uint]int64, error) {
	var rows []struct {
		ID      uint
		TotalXP int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Learner{}).Select("id, total_xp").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list learner totals: %w", err)
	}

	totals := make(map[uint]int64, len(rows))
	for _, row := range rows {
		totals[row.ID] = row.TotalXP
	}
	return totals, nil
}
