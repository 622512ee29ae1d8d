// Package models defines the persisted entities of the progression engine.
package models

import (
	"time"
)

// Learner is the denormalized per-learner aggregate. TotalXP is a cache of the
// sum of the learner's XP events and is only changed together with an event.
type Learner struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ExternalID         string     `gorm:"uniqueIndex;not null;size:255" json:"external_id"`
	TotalXP            int64      `gorm:"not null" json:"total_xp"`
	Hearts             int        `gorm:"not null" json:"hearts"`
	LastHeartLossAt    *time.Time `json:"last_heart_loss_at"`
	LastAdHeartAt      *time.Time `json:"last_ad_heart_at"`
	CurrentStreak      int        `gorm:"not null" json:"current_streak"`
	LongestStreak      int        `gorm:"not null" json:"longest_streak"`
	LastActivityDate   *time.Time `json:"last_activity_date"`
	LessonsCompleted   int        `gorm:"not null" json:"lessons_completed"`
	PerfectLessons     int        `gorm:"not null" json:"perfect_lessons"`
	ExercisesCompleted int        `gorm:"not null" json:"exercises_completed"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Learner model.
func (Learner) TableName() string {
	return "learners"
}

// ProgressDelta is a set of learner counter changes committed in the same
// transaction as the action that caused them.
type ProgressDelta struct {
	Lessons        int
	PerfectLessons int
	Exercises      int
	Streak         *StreakUpdate
}

// StreakUpdate replaces the learner's streak counters and activity date.
type StreakUpdate struct {
	Current  int
	Longest  int
	Activity time.Time
}

// ActionReceipt marks a client action that has no XP event of its own (a
// heart lost on a wrong answer) as processed, keyed like XP dedup keys.
type ActionReceipt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LearnerID uint      `gorm:"not null;uniqueIndex:idx_action_receipts_learner_key,priority:1" json:"learner_id"`
	DedupKey  string    `gorm:"not null;size:128;uniqueIndex:idx_action_receipts_learner_key,priority:2" json:"dedup_key"`
	Action    string    `gorm:"not null;size:32" json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for ActionReceipt model.
func (ActionReceipt) TableName() string {
	return "action_receipts"
}
