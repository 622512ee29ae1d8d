package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Trigger names the learner action that prompted an achievement check.
type Trigger string

// Trigger constants.
const (
	TriggerLessonCompleted   Trigger = "lesson_completed"
	TriggerStreakUpdated     Trigger = "streak_updated"
	TriggerExerciseCompleted Trigger = "exercise_completed"
	TriggerXPEarned          Trigger = "xp_earned"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerLessonCompleted, TriggerStreakUpdated, TriggerExerciseCompleted, TriggerXPEarned:
		return true
	}
	return false
}

// CriteriaKind is the tag of the Criteria variant.
type CriteriaKind string

// CriteriaKind constants. CriteriaOpaque holds payloads of unknown kinds.
const (
	CriteriaFirstLesson      CriteriaKind = "first_lesson"
	CriteriaLessonsCompleted CriteriaKind = "lessons_completed"
	CriteriaPerfectLessons   CriteriaKind = "perfect_lessons"
	CriteriaStreak           CriteriaKind = "streak"
	CriteriaTotalXP          CriteriaKind = "total_xp"
	CriteriaExpression       CriteriaKind = "expression"
	CriteriaOpaque           CriteriaKind = "opaque"
)

// Criteria is the unlock rule attached to an achievement definition.
// Threshold carries the count, days or amount of the threshold kinds;
// Expr is set for CriteriaExpression; Raw keeps the original JSON of an
// unrecognised kind so it round-trips unchanged.
type Criteria struct {
	Kind      CriteriaKind
	Threshold int64
	Expr      string
	Raw       json.RawMessage
}

type criteriaWire struct {
	Kind   CriteriaKind `json:"kind"`
	Count  *int64       `json:"count,omitempty"`
	Days   *int64       `json:"days,omitempty"`
	Amount *int64       `json:"amount,omitempty"`
	Expr   string       `json:"expr,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Criteria) MarshalJSON() ([]byte, error) {
	w := criteriaWire{Kind: c.Kind}
	threshold := c.Threshold
	switch c.Kind {
	case CriteriaFirstLesson:
	case CriteriaLessonsCompleted, CriteriaPerfectLessons:
		w.Count = &threshold
	case CriteriaStreak:
		w.Days = &threshold
	case CriteriaTotalXP:
		w.Amount = &threshold
	case CriteriaExpression:
		w.Expr = c.Expr
	default:
		if len(c.Raw) > 0 {
			return c.Raw, nil
		}
		return []byte("null"), nil
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Criteria) UnmarshalJSON(data []byte) error {
	var w criteriaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to parse criteria: %w", err)
	}

	*c = Criteria{Kind: w.Kind}
	pick := func(v *int64) (int64, error) {
		if v == nil {
			return 0, fmt.Errorf("criteria %q is missing its threshold", w.Kind)
		}
		return *v, nil
	}

	var err error
	switch w.Kind {
	case CriteriaFirstLesson:
	case CriteriaLessonsCompleted, CriteriaPerfectLessons:
		c.Threshold, err = pick(w.Count)
	case CriteriaStreak:
		c.Threshold, err = pick(w.Days)
	case CriteriaTotalXP:
		c.Threshold, err = pick(w.Amount)
	case CriteriaExpression:
		if w.Expr == "" {
			err = fmt.Errorf("expression criteria requires expr")
		}
		c.Expr = w.Expr
	default:
		c.Kind = CriteriaOpaque
		c.Raw = append(json.RawMessage(nil), data...)
	}
	return err
}

// Value implements driver.Valuer so Criteria is stored as JSON text.
func (c Criteria) Value() (driver.Value, error) {
	b, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *Criteria) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = Criteria{Kind: CriteriaOpaque}
		return nil
	case []byte:
		return c.UnmarshalJSON(v)
	case string:
		return c.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported criteria column type %T", src)
	}
}

// AchievementDefinition is a catalog entry.
type AchievementDefinition struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Code        string    `gorm:"uniqueIndex;not null;size:100" json:"code"`
	Name        string    `gorm:"not null;size:255" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Icon        string    `gorm:"size:50" json:"icon"`
	Criteria    Criteria  `gorm:"type:text;not null" json:"criteria"`
	XPReward    int64     `gorm:"not null" json:"xp_reward"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for AchievementDefinition model.
func (AchievementDefinition) TableName() string {
	return "achievements"
}

// AchievementUnlock records that a learner earned an achievement. At most one
// row exists per (learner, achievement); the unique index enforces it.
type AchievementUnlock struct {
	ID            uint                  `gorm:"primaryKey" json:"id"`
	LearnerID     uint                  `gorm:"not null;uniqueIndex:idx_unlocks_learner_achievement,priority:1" json:"learner_id"`
	AchievementID uint                  `gorm:"not null;uniqueIndex:idx_unlocks_learner_achievement,priority:2" json:"achievement_id"`
	Achievement   AchievementDefinition `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
	UnlockedAt    time.Time             `gorm:"not null" json:"unlocked_at"`
}

// TableName specifies the table name for AchievementUnlock model.
func (AchievementUnlock) TableName() string {
	return "achievement_unlocks"
}
