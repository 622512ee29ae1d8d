package models

import (
	"strconv"
	"time"
)

// Period is a leaderboard accumulation window.
type Period string

// Period constants.
const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "all_time"
)

// Periods lists every tracked period in recording order.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime}

// Valid reports whether p is a tracked period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return true
	}
	return false
}

// LeaderboardEntry accumulates a learner's XP in one partition
// (period, period_start, language_id). LanguageID 0 is the all-languages
// partition. Rank is derived by re-ranking; 0 means not yet ranked.
type LeaderboardEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Period      Period    `gorm:"not null;size:16;uniqueIndex:idx_leaderboard_partition_learner,priority:1" json:"period"`
	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_leaderboard_partition_learner,priority:2" json:"period_start"`
	LanguageID  uint      `gorm:"not null;uniqueIndex:idx_leaderboard_partition_learner,priority:3" json:"language_id"`
	LearnerID   uint      `gorm:"not null;uniqueIndex:idx_leaderboard_partition_learner,priority:4;index" json:"learner_id"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`
	XP          int64     `gorm:"not null" json:"xp"`
	Rank        int       `gorm:"not null" json:"rank"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for LeaderboardEntry model.
func (LeaderboardEntry) TableName() string {
	return "leaderboard_entries"
}

// Partition identifies one ranked group of leaderboard entries.
type Partition struct {
	Period      Period
	PeriodStart time.Time
	LanguageID  uint
}

// Key returns a stable string form used for lock names and cache keys.
func (p Partition) Key() string {
	return string(p.Period) + ":" + p.PeriodStart.UTC().Format(time.RFC3339) + ":" + strconv.FormatUint(uint64(p.LanguageID), 10)
}
