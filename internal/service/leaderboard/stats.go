package leaderboard

import (
	"context"
	"time"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/models"
)

// Position is a learner's standing in the current window of a period.
type Position struct {
	LearnerID   uint          `json:"learner_id"`
	Period      models.Period `json:"period"`
	LanguageID  uint          `json:"language_id"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	XP          int64         `json:"xp"`
	Rank        int           `json:"rank"` // 0 until re-ranked
	Total       int64         `json:"total"`
}

// GetLearnerPosition returns the learner's entry in the current partition.
// ErrNotFound means the learner earned no XP in this window yet.
func (s *Service) GetLearnerPosition(ctx context.Context, learnerID uint, period models.Period, languageID uint) (*Position, error) {
	if learnerID == 0 {
		return nil, apperror.Invalid("learner id is required")
	}
	if !period.Valid() {
		return nil, apperror.Invalid("unknown period %q", period)
	}

	p, end, err := s.CurrentPartition(period, languageID)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.GetEntry(ctx, p, learnerID)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.CountPartition(ctx, p)
	if err != nil {
		return nil, err
	}

	return &Position{
		LearnerID:   learnerID,
		Period:      period,
		LanguageID:  languageID,
		PeriodStart: p.PeriodStart,
		PeriodEnd:   end,
		XP:          entry.XP,
		Rank:        entry.Rank,
		Total:       total,
	}, nil
}
