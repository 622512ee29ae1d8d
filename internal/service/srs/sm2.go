// Package srs schedules flashcard reviews with a modified SM-2 algorithm.
package srs

import (
	"cmp"
	"iter"
	"math"
	"slices"
	"time"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/models"
)

// Quality ratings.
const (
	QualityAgain = 0
	QualityHard  = 1
	QualityGood  = 2
	QualityEasy  = 3

	MaxQuality  = QualityEasy
	PassQuality = QualityHard
)

const (
	InitialEaseFactor = 2.5
	MinEaseFactor     = 1.3
)

// Params are the tunable parts of the schedule.
type Params struct {
	EasySecondInterval int
	EasyBonus          float64
	MaxIntervalDays    int
}

// DefaultParams returns the standard schedule parameters.
func DefaultParams() Params {
	return Params{
		EasySecondInterval: 4,
		EasyBonus:          1.2,
		MaxIntervalDays:    365,
	}
}

// Result is the card state after a review.
type Result struct {
	Interval    int     `json:"interval"`
	EaseFactor  float64 `json:"ease_factor"`
	Repetitions int     `json:"repetitions"`
}

// ScheduleNextReview computes the next interval in days, ease factor and
// repetition count for a review of the given quality.
func ScheduleNextReview(quality, interval int, easeFactor float64, repetitions int, p Params) (Result, error) {
	if quality < QualityAgain || quality > MaxQuality {
		return Result{}, apperror.Invalid("quality must be between %d and %d, got %d", QualityAgain, MaxQuality, quality)
	}
	if interval < 0 || repetitions < 0 {
		return Result{}, apperror.Invalid("interval and repetitions cannot be negative")
	}
	if easeFactor <= 0 {
		return Result{}, apperror.Invalid("ease factor must be positive, got %v", easeFactor)
	}

	d := float64(MaxQuality - quality)
	ef := math.Max(MinEaseFactor, easeFactor+(0.1-d*(0.08+d*0.02)))

	if quality < PassQuality {
		return Result{Interval: 1, EaseFactor: ef, Repetitions: 0}, nil
	}

	var next int
	switch repetitions {
	case 0:
		next = 1
	case 1:
		next = 6
		if quality == QualityEasy && p.EasySecondInterval > 0 {
			next = p.EasySecondInterval
		}
	default:
		f := float64(interval) * ef
		if quality == QualityEasy && p.EasyBonus > 0 {
			f *= p.EasyBonus
		}
		next = int(math.Round(f))
	}

	if next < 1 {
		next = 1
	}
	if p.MaxIntervalDays > 0 && next > p.MaxIntervalDays {
		next = p.MaxIntervalDays
	}

	return Result{Interval: next, EaseFactor: ef, Repetitions: repetitions + 1}, nil
}

// NewState returns the state of a card that has never been reviewed.
func NewState(learnerID, cardID uint, now time.Time) models.ReviewState {
	return models.ReviewState{
		LearnerID:    learnerID,
		CardID:       cardID,
		EaseFactor:   InitialEaseFactor,
		Interval:     0,
		Repetitions:  0,
		NextReviewAt: now.UTC(),
	}
}

// GetDueCards yields the states whose next review is at or before now.
func GetDueCards(states []models.ReviewState, now time.Time) iter.Seq[models.ReviewState] {
	return func(yield func(models.ReviewState) bool) {
		for _, s := range states {
			if s.NextReviewAt.After(now) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Prioritize sorts cards most overdue first, breaking ties by lower ease
// factor. Equal cards keep their input order.
func Prioritize(cards []models.ReviewState) {
	slices.SortStableFunc(cards, func(a, b models.ReviewState) int {
		if c := a.NextReviewAt.Compare(b.NextReviewAt); c != 0 {
			return c
		}
		return cmp.Compare(a.EaseFactor, b.EaseFactor)
	})
}
