package models

import (
	"time"
)

// ReviewState is the spaced-repetition state of one card for one learner.
// Rows are created lazily on the first review.
type ReviewState struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	LearnerID      uint       `gorm:"not null;uniqueIndex:idx_review_states_learner_card,priority:1;index:idx_review_states_due,priority:1" json:"learner_id"`
	CardID         uint       `gorm:"not null;uniqueIndex:idx_review_states_learner_card,priority:2" json:"card_id"`
	EaseFactor     float64    `gorm:"not null" json:"ease_factor"`
	Interval       int        `gorm:"not null" json:"interval"`
	Repetitions    int        `gorm:"not null" json:"repetitions"`
	NextReviewAt   time.Time  `gorm:"not null;index:idx_review_states_due,priority:2" json:"next_review_at"`
	LastReviewedAt *time.Time `json:"last_reviewed_at"`
	LastQuality    int        `gorm:"not null" json:"last_quality"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName specifies the table name for ReviewState model.
func (ReviewState) TableName() string {
	return "review_states"
}
