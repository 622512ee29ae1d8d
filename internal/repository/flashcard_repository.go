package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/aimd54/lingo-progression/internal/models"
)

// ReviewStateRepository persists spaced-repetition state.
type ReviewStateRepository struct {
	db *DB
}

// NewReviewStateRepository creates a new review state repository.
func NewReviewStateRepository(db *DB) *ReviewStateRepository {
	return &ReviewStateRepository{db: db}
}

// Get returns the state for (learner, card) or an ErrNotFound error.
func (r *ReviewStateRepository) Get(ctx context.Context, learnerID, cardID uint) (*models.ReviewState, error) {
	var state models.ReviewState
	err := r.db.WithContext(ctx).
		Where("learner_id = ? AND card_id = ?", learnerID, cardID).
		First(&state).Error
	if err != nil {
		return nil, notFound(err, "review state for card", cardID)
	}
	return &state, nil
}

// Save inserts the state or overwrites the scheduling columns of the
// existing (learner, card) row.
func (r *ReviewStateRepository) Save(ctx context.Context, state *models.ReviewState) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "learner_id"}, {Name: "card_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ease_factor", "interval", "repetitions", "next_review_at",
			"last_reviewed_at", "last_quality", "updated_at",
		}),
	}).Create(state).Error
	if err != nil {
		return wrapWrite(err, state.LearnerID, "failed to save review state for card %d", state.CardID)
	}
	return nil
}

// ListByLearner returns all of the learner's states in card order.
func (r *ReviewStateRepository) ListByLearner(ctx context.Context, learnerID uint) ([]models.ReviewState, error) {
	var states []models.ReviewState
	err := r.db.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Order("card_id ASC").
		Find(&states).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list review states for learner %d: %w", learnerID, err)
	}
	return states, nil
}
