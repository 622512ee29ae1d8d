// Package progress orchestrates scoring actions: it appends XP and then
// fans out to the leaderboard and achievement checks.
package progress

import (
	"context"
	"time"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/config"
	prommetrics "github.com/aimd54/lingo-progression/internal/metrics"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/repository"
	"github.com/aimd54/lingo-progression/internal/service/achievements"
	"github.com/aimd54/lingo-progression/internal/service/hearts"
	"github.com/aimd54/lingo-progression/internal/service/leaderboard"
	"github.com/aimd54/lingo-progression/internal/service/xp"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// Ledger appends XP events.
type Ledger interface {
	Append(ctx context.Context, in xp.AppendInput) (*models.XPEvent, bool, error)
}

// Leaderboard records earned XP into ranking partitions.
type Leaderboard interface {
	RecordXP(ctx context.Context, learnerID uint, xpEarned int64, languageID uint) error
}

// Achievements checks and unlocks achievements.
type Achievements interface {
	CheckAndUnlock(ctx context.Context, learnerID uint, c achievements.Context) ([]achievements.UnlockResult, error)
}

// Hearts consumes hearts on mistakes.
type Hearts interface {
	LoseHeartWith(ctx context.Context, learnerID uint, dedupKey string, delta *models.ProgressDelta) (*hearts.Status, bool, error)
}

// LearnerRepository is the learner storage the orchestrator needs.
type LearnerRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Learner, error)
}

// AwardInput is one XP-earning action. LanguageID 0 records globally only.
type AwardInput struct {
	LearnerID   uint            `json:"learner_id"`
	Amount      int64           `json:"amount"`
	Source      models.XPSource `json:"source"`
	SourceID    string          `json:"source_id,omitempty"`
	Description string          `json:"description,omitempty"`
	DedupKey    string          `json:"-"`
	LanguageID  uint            `json:"language_id,omitempty"`
}

// AwardResult is the recorded event and any achievements it unlocked.
// Duplicate is set when the request replayed an earlier dedup key.
type AwardResult struct {
	Event     *models.XPEvent             `json:"event"`
	Duplicate bool                        `json:"duplicate"`
	Unlocked  []achievements.UnlockResult `json:"unlocked"`
}

// LessonInput describes a finished lesson. Accuracy is in [0, 1].
type LessonInput struct {
	LearnerID  uint    `json:"learner_id"`
	LessonID   string  `json:"lesson_id"`
	LanguageID uint    `json:"language_id"`
	Accuracy   float64 `json:"accuracy"`
	DedupKey   string  `json:"-"`
}

// LessonResult reports what a lesson completion changed.
type LessonResult struct {
	XP       *AwardResult                `json:"xp"`
	Perfect  bool                        `json:"perfect"`
	Streak   int                         `json:"streak"`
	Unlocked []achievements.UnlockResult `json:"unlocked"`
}

// ExerciseInput is one answered exercise.
type ExerciseInput struct {
	LearnerID  uint   `json:"learner_id"`
	ExerciseID string `json:"exercise_id"`
	LanguageID uint   `json:"language_id"`
	Correct    bool   `json:"correct"`
	XP         int64  `json:"xp"`
	DedupKey   string `json:"-"`
}

// ExerciseResult reports what answering an exercise changed.
type ExerciseResult struct {
	XP       *AwardResult                `json:"xp,omitempty"`
	Hearts   *hearts.Status              `json:"hearts,omitempty"`
	Unlocked []achievements.UnlockResult `json:"unlocked"`
}

// Service is the progress orchestrator.
type Service struct {
	ledger       Ledger
	leaderboard  Leaderboard
	achievements Achievements
	hearts       Hearts
	learners     LearnerRepository

	lessonXP        int64
	perfectLessonXP int64
	perfectAccuracy float64
	loc             *time.Location
	now             func() time.Time
	log             *logger.Logger
}

// NewService creates a new progress service.
func NewService(
	ledger *xp.Ledger,
	board *leaderboard.Service,
	unlocker *achievements.Service,
	heartsSvc *hearts.Service,
	learners *repository.LearnerRepository,
	cfg *config.ProgressConfig,
	loc *time.Location,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(ledger, board, unlocker, heartsSvc, learners, cfg, loc, log)
}

// NewServiceWithInterfaces creates a new progress service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	ledger Ledger,
	board Leaderboard,
	unlocker Achievements,
	heartsSvc Hearts,
	learners LearnerRepository,
	cfg *config.ProgressConfig,
	loc *time.Location,
	log *logger.Logger,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		ledger:          ledger,
		leaderboard:     board,
		achievements:    unlocker,
		hearts:          heartsSvc,
		learners:        learners,
		lessonXP:        10,
		perfectLessonXP: 5,
		perfectAccuracy: 1.0,
		loc:             loc,
		now:             time.Now,
		log:             log,
	}
	if cfg != nil {
		if cfg.LessonXP > 0 {
			s.lessonXP = int64(cfg.LessonXP)
		}
		if cfg.PerfectLessonXP >= 0 {
			s.perfectLessonXP = int64(cfg.PerfectLessonXP)
		}
		if cfg.PerfectAccuracy > 0 {
			s.perfectAccuracy = cfg.PerfectAccuracy
		}
	}
	return s
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AwardXP appends the event and, once it is stored, records it on the
// leaderboard and checks achievements. Only the append can fail the call;
// the follow-ups are logged and dropped on error.
func (s *Service) AwardXP(ctx context.Context, in AwardInput) (*AwardResult, error) {
	return s.award(ctx, in, nil)
}

// award appends in with delta committed alongside the event.
func (s *Service) award(ctx context.Context, in AwardInput, delta *models.ProgressDelta) (*AwardResult, error) {
	event, created, err := s.ledger.Append(ctx, xp.AppendInput{
		LearnerID:   in.LearnerID,
		Amount:      in.Amount,
		Source:      in.Source,
		SourceID:    in.SourceID,
		Description: in.Description,
		DedupKey:    in.DedupKey,
		Progress:    delta,
	})
	if err != nil {
		return nil, err
	}

	result := &AwardResult{Event: event, Duplicate: !created, Unlocked: []achievements.UnlockResult{}}
	if !created {
		return result, nil
	}

	if in.Amount > 0 {
		s.recordLeaderboard(ctx, in.LearnerID, in.Amount, in.LanguageID)
	}

	result.Unlocked = s.check(ctx, in.LearnerID, in.LanguageID, achievements.Context{
		Trigger: models.TriggerXPEarned,
		Data: map[string]any{
			"amount": in.Amount,
			"source": string(in.Source),
		},
	})

	return result, nil
}

// CompleteLesson credits a finished lesson: lesson XP, lesson counters and
// the daily streak, followed by lesson and streak achievement checks.
func (s *Service) CompleteLesson(ctx context.Context, in LessonInput) (*LessonResult, error) {
	if in.LearnerID == 0 {
		return nil, apperror.Invalid("learner id is required")
	}
	if in.Accuracy < 0 || in.Accuracy > 1 {
		return nil, apperror.Invalid("accuracy must be between 0 and 1, got %v", in.Accuracy)
	}

	learner, err := s.learners.GetByID(ctx, in.LearnerID)
	if err != nil {
		return nil, err
	}

	perfect := in.Accuracy >= s.perfectAccuracy
	amount := s.lessonXP
	if perfect {
		amount += s.perfectLessonXP
	}

	now := s.now().UTC()
	streak, changed := NextStreak(learner.CurrentStreak, learner.LastActivityDate, now, s.loc)
	delta := &models.ProgressDelta{
		Lessons: 1,
		Streak: &models.StreakUpdate{
			Current:  streak,
			Longest:  max(learner.LongestStreak, streak),
			Activity: now,
		},
	}
	if perfect {
		delta.PerfectLessons = 1
	}

	event, created, err := s.ledger.Append(ctx, xp.AppendInput{
		LearnerID:   in.LearnerID,
		Amount:      amount,
		Source:      models.XPSourceLesson,
		SourceID:    in.LessonID,
		Description: "Lesson completed",
		DedupKey:    in.DedupKey,
		Progress:    delta,
	})
	if err != nil {
		return nil, err
	}

	result := &LessonResult{
		XP:       &AwardResult{Event: event, Duplicate: !created, Unlocked: []achievements.UnlockResult{}},
		Perfect:  perfect,
		Streak:   learner.CurrentStreak,
		Unlocked: []achievements.UnlockResult{},
	}
	if !created {
		return result, nil
	}
	result.Streak = streak

	s.recordLeaderboard(ctx, in.LearnerID, amount, in.LanguageID)

	result.Unlocked = s.check(ctx, in.LearnerID, in.LanguageID, achievements.Context{
		Trigger: models.TriggerLessonCompleted,
		Data: map[string]any{
			"lesson_id": in.LessonID,
			"accuracy":  in.Accuracy,
			"perfect":   perfect,
		},
	})
	if changed {
		result.Unlocked = append(result.Unlocked, s.check(ctx, in.LearnerID, in.LanguageID, achievements.Context{
			Trigger: models.TriggerStreakUpdated,
			Data:    map[string]any{"streak": streak},
		})...)
	}
	result.XP.Unlocked = result.Unlocked

	s.log.Info().
		Uint("learner_id", in.LearnerID).
		Str("lesson_id", in.LessonID).
		Bool("perfect", perfect).
		Int("streak", streak).
		Int("unlocked", len(result.Unlocked)).
		Msg("Lesson completed")

	return result, nil
}

// CompleteExercise records an answered exercise. A correct answer earns
// in.XP; a wrong one costs a heart.
func (s *Service) CompleteExercise(ctx context.Context, in ExerciseInput) (*ExerciseResult, error) {
	if in.LearnerID == 0 {
		return nil, apperror.Invalid("learner id is required")
	}
	if in.Correct && in.XP <= 0 {
		return nil, apperror.Invalid("xp must be positive for a correct answer")
	}

	result := &ExerciseResult{Unlocked: []achievements.UnlockResult{}}
	delta := &models.ProgressDelta{Exercises: 1}

	if in.Correct {
		award, err := s.award(ctx, AwardInput{
			LearnerID:   in.LearnerID,
			Amount:      in.XP,
			Source:      models.XPSourceExercise,
			SourceID:    in.ExerciseID,
			Description: "Exercise answered correctly",
			DedupKey:    in.DedupKey,
			LanguageID:  in.LanguageID,
		}, delta)
		if err != nil {
			return nil, err
		}
		result.XP = award
		result.Unlocked = award.Unlocked
		if award.Duplicate {
			return result, nil
		}
	} else {
		status, duplicate, err := s.hearts.LoseHeartWith(ctx, in.LearnerID, in.DedupKey, delta)
		if err != nil {
			return nil, err
		}
		result.Hearts = status
		if duplicate {
			return result, nil
		}
	}

	result.Unlocked = append(result.Unlocked, s.check(ctx, in.LearnerID, in.LanguageID, achievements.Context{
		Trigger: models.TriggerExerciseCompleted,
		Data: map[string]any{
			"exercise_id": in.ExerciseID,
			"correct":     in.Correct,
		},
	})...)

	return result, nil
}

func (s *Service) recordLeaderboard(ctx context.Context, learnerID uint, amount int64, languageID uint) {
	if err := s.leaderboard.RecordXP(ctx, learnerID, amount, languageID); err != nil {
		prommetrics.RecordSideEffectFailure("leaderboard")
		s.log.Warn().
			Err(err).
			Uint("learner_id", learnerID).
			Int64("xp", amount).
			Msg("Failed to record leaderboard XP")
	}
}

// check runs an achievement check and records reward XP on the leaderboard.
// Errors are logged and swallowed.
func (s *Service) check(ctx context.Context, learnerID, languageID uint, c achievements.Context) []achievements.UnlockResult {
	unlocked, err := s.achievements.CheckAndUnlock(ctx, learnerID, c)
	if err != nil {
		prommetrics.RecordSideEffectFailure("achievements")
		s.log.Warn().
			Err(err).
			Uint("learner_id", learnerID).
			Str("trigger", string(c.Trigger)).
			Msg("Achievement check failed")
		return []achievements.UnlockResult{}
	}
	if unlocked == nil {
		unlocked = []achievements.UnlockResult{}
	}

	for _, u := range unlocked {
		if u.XPReward > 0 {
			s.recordLeaderboard(ctx, learnerID, u.XPReward, languageID)
		}
	}
	return unlocked
}
