package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/models"
)

// XPRepository handles the XP event ledger.
type XPRepository struct {
	db *DB
}

// NewXPRepository creates a new XP repository.
func NewXPRepository(db *DB) *XPRepository {
	return &XPRepository{db: db}
}

// Append records event and increments the learner's total_xp in one
// transaction. The returned bool is false when the event's dedup key was
// already used; the original event is returned and nothing is applied.
func (r *XPRepository) Append(ctx context.Context, event *models.XPEvent) (*models.XPEvent, bool, error) {
	return r.AppendWithProgress(ctx, event, nil)
}

// AppendWithProgress is Append that also applies delta to the learner in the
// same transaction. A failed delta rolls the event back, so a retry with the
// same dedup key starts over; a deduplicated event applies no delta.
func (r *XPRepository) AppendWithProgress(ctx context.Context, event *models.XPEvent, delta *models.ProgressDelta) (*models.XPEvent, bool, error) {
	var (
		stored  *models.XPEvent
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stored, created, err = appendXPTx(tx, event)
		if err != nil || !created {
			return err
		}
		return applyProgressTx(tx, event.LearnerID, delta)
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// appendXPTx performs the ledger write inside an open transaction.
func appendXPTx(tx *gorm.DB, event *models.XPEvent) (*models.XPEvent, bool, error) {
	if event.UID == "" {
		event.UID = uuid.NewString()
	}

	if err := learnerExists(tx, event.LearnerID); err != nil {
		return nil, false, err
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if res.Error != nil {
		return nil, false, wrapWrite(res.Error, event.LearnerID, "failed to insert xp event")
	}

	if res.RowsAffected == 0 {
		if event.DedupKey == nil {
			return nil, false, fmt.Errorf("xp event %s was not inserted", event.UID)
		}
		var existing models.XPEvent
		err := tx.Where("learner_id = ? AND dedup_key = ?", event.LearnerID, *event.DedupKey).
			First(&existing).Error
		if err != nil {
			return nil, false, fmt.Errorf("failed to load deduplicated xp event: %w", err)
		}
		return &existing, false, nil
	}

	upd := tx.Model(&models.Learner{}).
		Where("id = ?", event.LearnerID).
		Update("total_xp", gorm.Expr("total_xp + ?", event.Amount))
	if upd.Error != nil {
		return nil, false, fmt.Errorf("failed to increment total xp: %w", upd.Error)
	}
	if upd.RowsAffected == 0 {
		return nil, false, apperror.NotFound("learner", event.LearnerID)
	}

	return event, true, nil
}

// History returns the learner's most recent events, newest first.
func (r *XPRepository) History(ctx context.Context, learnerID uint, limit int) ([]models.XPEvent, error) {
	var events []models.XPEvent
	query := r.db.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list xp events for learner %d: %w", learnerID, err)
	}
	return events, nil
}

// SumByLearner returns learner id -> SUM(amount) over the whole ledger.
func (r *XPRepository) SumByLearner(ctx context.Context) (map[uint]int64, error) {
	var rows []struct {
		LearnerID uint
		Total     int64
	}
	err := r.db.WithContext(ctx).Model(&models.XPEvent{}).
		Select("learner_id, SUM(amount) AS total").
		Group("learner_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum xp events: %w", err)
	}

	sums := make(map[uint]int64, len(rows))
	for _, row := range rows {
		sums[row.LearnerID] = row.Total
	}
	return sums, nil
}
