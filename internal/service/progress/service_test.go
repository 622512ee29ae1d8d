package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/config"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/internal/service/achievements"
	"github.com/aimd54/lingo-progression/internal/service/hearts"
	"github.com/aimd54/lingo-progression/internal/service/xp"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// fakeLedger commits the progress delta with the event, like the SQL
// repository does in one transaction.
type fakeLedger struct {
	mu       sync.Mutex
	events   []models.XPEvent
	byKey    map[string]models.XPEvent
	learners *fakeLearners
	err      error
	failNext int
}

func (f *fakeLedger) Append(ctx context.Context, in xp.AppendInput) (*models.XPEvent, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, false, errors.New("connection reset")
	}
	if f.byKey == nil {
		f.byKey = make(map[string]models.XPEvent)
	}
	if in.DedupKey != "" {
		if ev, ok := f.byKey[in.DedupKey]; ok {
			return &ev, false, nil
		}
	}
	ev := models.XPEvent{ID: uint(len(f.events) + 1), LearnerID: in.LearnerID, Amount: in.Amount, Source: in.Source}
	f.events = append(f.events, ev)
	if in.DedupKey != "" {
		f.byKey[in.DedupKey] = ev
	}
	f.learners.apply(in.Progress)
	return &ev, true, nil
}

type recordCall struct {
	learnerID  uint
	xp         int64
	languageID uint
}

type fakeLeaderboard struct {
	mu    sync.Mutex
	calls []recordCall
	err   error
}

func (f *fakeLeaderboard) RecordXP(ctx context.Context, learnerID uint, xpEarned int64, languageID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordCall{learnerID, xpEarned, languageID})
	return f.err
}

type fakeAchievements struct {
	mu       sync.Mutex
	triggers []models.Trigger
	unlocks  map[models.Trigger][]achievements.UnlockResult
	err      error
}

func (f *fakeAchievements) CheckAndUnlock(ctx context.Context, learnerID uint, c achievements.Context) ([]achievements.UnlockResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, c.Trigger)
	if f.err != nil {
		return nil, f.err
	}
	return f.unlocks[c.Trigger], nil
}

type fakeHearts struct {
	lost     int
	keys     map[string]bool
	learners *fakeLearners
}

func (f *fakeHearts) LoseHeartWith(ctx context.Context, learnerID uint, dedupKey string, delta *models.ProgressDelta) (*hearts.Status, bool, error) {
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if dedupKey != "" && f.keys[dedupKey] {
		return &hearts.Status{Hearts: 5 - f.lost, MaxHearts: 5}, true, nil
	}
	f.keys[dedupKey] = true
	f.lost++
	f.learners.apply(delta)
	return &hearts.Status{Hearts: 5 - f.lost, MaxHearts: 5}, false, nil
}

type fakeLearners struct {
	learner *models.Learner
}

func (f *fakeLearners) GetByID(ctx context.Context, id uint) (*models.Learner, error) {
	if f.learner == nil || f.learner.ID != id {
		return nil, apperror.NotFound("learner", id)
	}
	cp := *f.learner
	return &cp, nil
}

func (f *fakeLearners) apply(d *models.ProgressDelta) {
	if d == nil {
		return
	}
	f.learner.LessonsCompleted += d.Lessons
	f.learner.PerfectLessons += d.PerfectLessons
	f.learner.ExercisesCompleted += d.Exercises
	if d.Streak != nil {
		f.learner.CurrentStreak = d.Streak.Current
		f.learner.LongestStreak = d.Streak.Longest
		activity := d.Streak.Activity
		f.learner.LastActivityDate = &activity
	}
}

type fixture struct {
	svc      *Service
	ledger   *fakeLedger
	board    *fakeLeaderboard
	unlocker *fakeAchievements
	hearts   *fakeHearts
	learners *fakeLearners
}

var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	learners := &fakeLearners{learner: &models.Learner{ID: 1, Hearts: 5}}
	f := &fixture{
		ledger:   &fakeLedger{learners: learners},
		board:    &fakeLeaderboard{},
		unlocker: &fakeAchievements{unlocks: map[models.Trigger][]achievements.UnlockResult{}},
		hearts:   &fakeHearts{learners: learners},
		learners: learners,
	}
	f.svc = NewServiceWithInterfaces(f.ledger, f.board, f.unlocker, f.hearts, f.learners,
		&config.ProgressConfig{LessonXP: 10, PerfectLessonXP: 5, PerfectAccuracy: 1.0}, time.UTC, logger.NewNop())
	f.svc.SetClock(func() time.Time { return testNow })
	return f
}

func TestAwardXP_FansOut(t *testing.T) {
	f := newFixture()
	f.unlocker.unlocks[models.TriggerXPEarned] = []achievements.UnlockResult{{Code: "xp_100", XPReward: 20}}

	res, err := f.svc.AwardXP(context.Background(), AwardInput{
		LearnerID: 1, Amount: 15, Source: models.XPSourceExercise, LanguageID: 3,
	})
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(15), res.Event.Amount)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, []models.Trigger{models.TriggerXPEarned}, f.unlocker.triggers)
	// The award and the achievement reward both reach the leaderboard.
	assert.Equal(t, []recordCall{{1, 15, 3}, {1, 20, 3}}, f.board.calls)
}

func TestAwardXP_SideEffectFailuresAreSwallowed(t *testing.T) {
	f := newFixture()
	f.board.err = errors.New("leaderboard down")
	f.unlocker.err = errors.New("achievements down")

	res, err := f.svc.AwardXP(context.Background(), AwardInput{LearnerID: 1, Amount: 10, Source: models.XPSourceExercise})
	require.NoError(t, err)
	assert.NotNil(t, res.Event)
	assert.Empty(t, res.Unlocked)
	assert.Len(t, f.ledger.events, 1)
}

func TestAwardXP_LedgerFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.ledger.err = errors.New("db down")

	_, err := f.svc.AwardXP(context.Background(), AwardInput{LearnerID: 1, Amount: 10, Source: models.XPSourceExercise})
	assert.Error(t, err)
	assert.Empty(t, f.board.calls)
	assert.Empty(t, f.unlocker.triggers)
}

func TestAwardXP_ValidationError(t *testing.T) {
	f := newFixture()

	_, err := f.svc.AwardXP(context.Background(), AwardInput{LearnerID: 1, Amount: 0, Source: models.XPSourceExercise})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestAwardXP_DuplicateSkipsSideEffects(t *testing.T) {
	f := newFixture()
	in := AwardInput{LearnerID: 1, Amount: 10, Source: models.XPSourceExercise, DedupKey: "req-1"}

	_, err := f.svc.AwardXP(context.Background(), in)
	require.NoError(t, err)
	res, err := f.svc.AwardXP(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Len(t, f.board.calls, 1)
	assert.Len(t, f.unlocker.triggers, 1)
}

func TestAwardXP_NegativeAmountSkipsLeaderboard(t *testing.T) {
	f := newFixture()

	_, err := f.svc.AwardXP(context.Background(), AwardInput{LearnerID: 1, Amount: -30, Source: models.XPSourcePurchase})
	require.NoError(t, err)
	assert.Empty(t, f.board.calls)
}

func TestCompleteLesson_Perfect(t *testing.T) {
	f := newFixture()
	yesterday := testNow.Add(-24 * time.Hour)
	f.learners.learner.CurrentStreak = 6
	f.learners.learner.LongestStreak = 6
	f.learners.learner.LastActivityDate = &yesterday
	f.unlocker.unlocks[models.TriggerStreakUpdated] = []achievements.UnlockResult{{Code: "streak_7", XPReward: 50}}

	res, err := f.svc.CompleteLesson(context.Background(), LessonInput{LearnerID: 1, LessonID: "l-1", LanguageID: 2, Accuracy: 1})
	require.NoError(t, err)

	assert.True(t, res.Perfect)
	assert.Equal(t, int64(15), res.XP.Event.Amount)
	assert.Equal(t, 7, res.Streak)
	assert.Equal(t, 7, f.learners.learner.LongestStreak)
	assert.Equal(t, 1, f.learners.learner.LessonsCompleted)
	assert.Equal(t, 1, f.learners.learner.PerfectLessons)
	assert.Equal(t, []models.Trigger{models.TriggerLessonCompleted, models.TriggerStreakUpdated}, f.unlocker.triggers)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, []recordCall{{1, 15, 2}, {1, 50, 2}}, f.board.calls)
}

func TestCompleteLesson_SameDayKeepsStreak(t *testing.T) {
	f := newFixture()
	earlier := testNow.Add(-time.Hour)
	f.learners.learner.CurrentStreak = 3
	f.learners.learner.LastActivityDate = &earlier

	res, err := f.svc.CompleteLesson(context.Background(), LessonInput{LearnerID: 1, Accuracy: 0.8})
	require.NoError(t, err)

	assert.False(t, res.Perfect)
	assert.Equal(t, int64(10), res.XP.Event.Amount)
	assert.Equal(t, 3, res.Streak)
	assert.Equal(t, []models.Trigger{models.TriggerLessonCompleted}, f.unlocker.triggers)
}

func TestCompleteLesson_RetryIsIdempotent(t *testing.T) {
	f := newFixture()
	in := LessonInput{LearnerID: 1, LessonID: "l-1", Accuracy: 0.9, DedupKey: "lesson:l-1:try-1"}

	_, err := f.svc.CompleteLesson(context.Background(), in)
	require.NoError(t, err)
	res, err := f.svc.CompleteLesson(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, res.XP.Duplicate)
	assert.Equal(t, 1, f.learners.learner.LessonsCompleted)
	assert.Len(t, f.ledger.events, 1)
}

func TestCompleteLesson_FailedAppendRetriesCleanly(t *testing.T) {
	f := newFixture()
	yesterday := testNow.Add(-24 * time.Hour)
	f.learners.learner.CurrentStreak = 2
	f.learners.learner.LongestStreak = 2
	f.learners.learner.LastActivityDate = &yesterday
	f.ledger.failNext = 1
	in := LessonInput{LearnerID: 1, LessonID: "l-1", LanguageID: 4, Accuracy: 1, DedupKey: "lesson:l-1:try-1"}

	_, err := f.svc.CompleteLesson(context.Background(), in)
	require.Error(t, err)
	assert.Empty(t, f.ledger.events)
	assert.Zero(t, f.learners.learner.LessonsCompleted)
	assert.Equal(t, 2, f.learners.learner.CurrentStreak)
	assert.Empty(t, f.board.calls)

	res, err := f.svc.CompleteLesson(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.XP.Duplicate)
	assert.Equal(t, 3, res.Streak)
	assert.Equal(t, 1, f.learners.learner.LessonsCompleted)
	assert.Equal(t, 1, f.learners.learner.PerfectLessons)
	assert.Equal(t, 3, f.learners.learner.CurrentStreak)
	assert.Equal(t, []recordCall{{1, 15, 4}}, f.board.calls)
}

func TestCompleteLesson_ReplayReturnsEmptyUnlocked(t *testing.T) {
	f := newFixture()
	in := LessonInput{LearnerID: 1, LessonID: "l-1", Accuracy: 0.5, DedupKey: "lesson:l-1:try-1"}

	_, err := f.svc.CompleteLesson(context.Background(), in)
	require.NoError(t, err)
	res, err := f.svc.CompleteLesson(context.Background(), in)
	require.NoError(t, err)

	assert.NotNil(t, res.Unlocked)
	assert.NotNil(t, res.XP.Unlocked)
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"unlocked":[]`)
	assert.NotContains(t, string(raw), `"unlocked":null`)
}

func TestCompleteLesson_InvalidInput(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CompleteLesson(context.Background(), LessonInput{LearnerID: 1, Accuracy: 1.5})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	_, err = f.svc.CompleteLesson(context.Background(), LessonInput{LearnerID: 0, Accuracy: 1})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	_, err = f.svc.CompleteLesson(context.Background(), LessonInput{LearnerID: 9, Accuracy: 1})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, f.ledger.events)
}

func TestCompleteExercise_Correct(t *testing.T) {
	f := newFixture()

	res, err := f.svc.CompleteExercise(context.Background(), ExerciseInput{LearnerID: 1, ExerciseID: "e-1", Correct: true, XP: 5})
	require.NoError(t, err)

	require.NotNil(t, res.XP)
	assert.Nil(t, res.Hearts)
	assert.Equal(t, 1, f.learners.learner.ExercisesCompleted)
	assert.Zero(t, f.hearts.lost)
	assert.Equal(t, []models.Trigger{models.TriggerXPEarned, models.TriggerExerciseCompleted}, f.unlocker.triggers)
}

func TestCompleteExercise_WrongCostsHeart(t *testing.T) {
	f := newFixture()

	res, err := f.svc.CompleteExercise(context.Background(), ExerciseInput{LearnerID: 1, ExerciseID: "e-1"})
	require.NoError(t, err)

	assert.Nil(t, res.XP)
	require.NotNil(t, res.Hearts)
	assert.Equal(t, 4, res.Hearts.Hearts)
	assert.Equal(t, 1, f.learners.learner.ExercisesCompleted)
	assert.Empty(t, f.ledger.events)
}

func TestCompleteExercise_WrongRetryCostsOneHeart(t *testing.T) {
	f := newFixture()
	in := ExerciseInput{LearnerID: 1, ExerciseID: "e-1", DedupKey: "answer:e-1"}

	_, err := f.svc.CompleteExercise(context.Background(), in)
	require.NoError(t, err)
	res, err := f.svc.CompleteExercise(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1, f.hearts.lost)
	assert.Equal(t, 4, res.Hearts.Hearts)
	assert.Equal(t, 1, f.learners.learner.ExercisesCompleted)
	assert.Equal(t, []models.Trigger{models.TriggerExerciseCompleted}, f.unlocker.triggers)
}

func TestAwardXP_ReplayReturnsEmptyUnlocked(t *testing.T) {
	f := newFixture()
	in := AwardInput{LearnerID: 1, Amount: 10, Source: models.XPSourceExercise, DedupKey: "req-1"}

	_, err := f.svc.AwardXP(context.Background(), in)
	require.NoError(t, err)
	res, err := f.svc.AwardXP(context.Background(), in)
	require.NoError(t, err)

	require.True(t, res.Duplicate)
	assert.NotNil(t, res.Unlocked)
	assert.Empty(t, res.Unlocked)
}

func TestCompleteExercise_CorrectRequiresXP(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CompleteExercise(context.Background(), ExerciseInput{LearnerID: 1, Correct: true})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}
