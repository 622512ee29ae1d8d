package models

import (
	"time"
)

// XPSource identifies what produced an XP event.
type XPSource string

// XPSource constants.
const (
	XPSourceExercise        XPSource = "exercise"
	XPSourceAchievement     XPSource = "achievement"
	XPSourceUnitBonus       XPSource = "unit_bonus"
	XPSourcePurchase        XPSource = "purchase"
	XPSourceLesson          XPSource = "lesson"
	XPSourceStreakBonus     XPSource = "streak_bonus"
	XPSourceAdminAdjustment XPSource = "admin_adjustment"
)

// Valid reports whether s is a known source.
func (s XPSource) Valid() bool {
	switch s {
	case XPSourceExercise, XPSourceAchievement, XPSourceUnitBonus, XPSourcePurchase,
		XPSourceLesson, XPSourceStreakBonus, XPSourceAdminAdjustment:
		return true
	}
	return false
}

// XPEvent is an append-only ledger row. Rows are never updated or deleted.
// DedupKey is optional; when set it is unique per learner so a retried
// request resolves to the original event.
type XPEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UID         string    `gorm:"uniqueIndex;not null;size:36" json:"uid"`
	LearnerID   uint      `gorm:"not null;uniqueIndex:idx_xp_events_learner_dedup,priority:1" json:"learner_id"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Source      XPSource  `gorm:"not null;size:32;index" json:"source"`
	SourceID    string    `gorm:"size:64" json:"source_id,omitempty"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	DedupKey    *string   `gorm:"size:128;uniqueIndex:idx_xp_events_learner_dedup,priority:2" json:"dedup_key,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for XPEvent model.
func (XPEvent) TableName() string {
	return "xp_events"
}
