package achievements

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// mockRepository keeps unlocks keyed by (learner, achievement) so duplicate
// inserts behave like the unique index.
type mockRepository struct {
	mu        sync.Mutex
	defs      []models.AchievementDefinition
	unlocks   map[[2]uint]time.Time
	rewards   map[uint]int64
	unlockErr map[uint]error
	nextID    uint
}

func newMockRepository(defs ...models.AchievementDefinition) *mockRepository {
	m := &mockRepository{
		unlocks:   make(map[[2]uint]time.Time),
		rewards:   make(map[uint]int64),
		unlockErr: make(map[uint]error),
	}
	for _, d := range defs {
		m.nextID++
		d.ID = m.nextID
		m.defs = append(m.defs, d)
	}
	return m
}

func (m *mockRepository) GetActive(ctx context.Context) ([]models.AchievementDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []models.AchievementDefinition
	for _, d := range m.defs {
		if d.IsActive {
			active = append(active, d)
		}
	}
	return active, nil
}

func (m *mockRepository) GetByCode(ctx context.Context, code string) (*models.AchievementDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.defs {
		if d.Code == code {
			return &d, nil
		}
	}
	return nil, apperror.NotFound("achievement", code)
}

func (m *mockRepository) UnlockedIDs(ctx context.Context, learnerID uint) (map[uint]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := map[uint]struct{}{}
	for key := range m.unlocks {
		if key[0] == learnerID {
			ids[key[1]] = struct{}{}
		}
	}
	return ids, nil
}

func (m *mockRepository) Unlock(ctx context.Context, learnerID, achievementID uint, at time.Time, reward *models.XPEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unlockErr[achievementID]; err != nil {
		return false, err
	}
	key := [2]uint{learnerID, achievementID}
	if _, ok := m.unlocks[key]; ok {
		return false, nil
	}
	m.unlocks[key] = at
	if reward != nil {
		m.rewards[learnerID] += reward.Amount
	}
	return true, nil
}

func (m *mockRepository) GetUnlocks(ctx context.Context, learnerID uint) ([]models.AchievementUnlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AchievementUnlock
	for key, at := range m.unlocks {
		if key[0] == learnerID {
			out = append(out, models.AchievementUnlock{LearnerID: learnerID, AchievementID: key[1], UnlockedAt: at})
		}
	}
	return out, nil
}

func (m *mockRepository) UpsertByCode(ctx context.Context, def *models.AchievementDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.defs {
		if m.defs[i].Code == def.Code {
			def.ID = m.defs[i].ID
			m.defs[i] = *def
			return nil
		}
	}
	m.nextID++
	def.ID = m.nextID
	m.defs = append(m.defs, *def)
	return nil
}

func (m *mockRepository) DeactivateMissing(ctx context.Context, codes []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := map[string]bool{}
	for _, c := range codes {
		keep[c] = true
	}
	var n int64
	for i := range m.defs {
		if m.defs[i].IsActive && !keep[m.defs[i].Code] {
			m.defs[i].IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) HoldersCount(ctx context.Context, achievementID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key := range m.unlocks {
		if key[1] == achievementID {
			n++
		}
	}
	return n, nil
}

type mockLearnerRepository struct {
	learners map[uint]models.Learner
}

func (m *mockLearnerRepository) GetByID(ctx context.Context, id uint) (*models.Learner, error) {
	l, ok := m.learners[id]
	if !ok {
		return nil, apperror.NotFound("learner", id)
	}
	return &l, nil
}

func learnerRepo(learners ...models.Learner) *mockLearnerRepository {
	m := &mockLearnerRepository{learners: map[uint]models.Learner{}}
	for _, l := range learners {
		m.learners[l.ID] = l
	}
	return m
}

func newDef(code string, criteria models.Criteria, reward int64) models.AchievementDefinition {
	return models.AchievementDefinition{Code: code, Name: code, Criteria: criteria, XPReward: reward, IsActive: true}
}

func TestCheckAndUnlock(t *testing.T) {
	repo := newMockRepository(
		newDef("first_lesson", models.Criteria{Kind: models.CriteriaFirstLesson}, 10),
		newDef("streak_7", models.Criteria{Kind: models.CriteriaStreak, Threshold: 7}, 50),
		newDef("lessons_10", models.Criteria{Kind: models.CriteriaLessonsCompleted, Threshold: 10}, 20),
	)
	learners := learnerRepo(models.Learner{ID: 1, LessonsCompleted: 1, CurrentStreak: 7})
	svc := NewServiceWithInterfaces(repo, learners, nil, logger.NewNop())

	results, err := svc.CheckAndUnlock(context.Background(), 1, Context{Trigger: models.TriggerLessonCompleted})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "first_lesson", results[0].Code)
	assert.Equal(t, "streak_7", results[1].Code)
	assert.Equal(t, int64(60), repo.rewards[1])
}

func TestCheckAndUnlock_Idempotent(t *testing.T) {
	repo := newMockRepository(newDef("streak_7", models.Criteria{Kind: models.CriteriaStreak, Threshold: 7}, 50))
	learners := learnerRepo(models.Learner{ID: 1, CurrentStreak: 8})
	svc := NewServiceWithInterfaces(repo, learners, nil, logger.NewNop())
	c := Context{Trigger: models.TriggerStreakUpdated}

	first, err := svc.CheckAndUnlock(context.Background(), 1, c)
	require.NoError(t, err)
	second, err := svc.CheckAndUnlock(context.Background(), 1, c)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Equal(t, int64(50), repo.rewards[1], "reward applied exactly once")
}

func TestCheckAndUnlock_Concurrent(t *testing.T) {
	repo := newMockRepository(newDef("streak_7", models.Criteria{Kind: models.CriteriaStreak, Threshold: 7}, 50))
	learners := learnerRepo(models.Learner{ID: 1, CurrentStreak: 7})
	svc := NewServiceWithInterfaces(repo, learners, nil, logger.NewNop())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.CheckAndUnlock(context.Background(), 1, Context{Trigger: models.TriggerStreakUpdated})
			assert.NoError(t, err)
			mu.Lock()
			total += len(res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	assert.Equal(t, int64(50), repo.rewards[1])
}

func TestCheckAndUnlock_FailureDoesNotStopOthers(t *testing.T) {
	repo := newMockRepository(
		newDef("broken_expr", models.Criteria{Kind: models.CriteriaExpression, Expr: `data.nope > 1`}, 5),
		newDef("unlock_fails", models.Criteria{Kind: models.CriteriaFirstLesson}, 5),
		newDef("xp_100", models.Criteria{Kind: models.CriteriaTotalXP, Threshold: 100}, 5),
		newDef("legacy", models.Criteria{Kind: models.CriteriaOpaque}, 5),
	)
	repo.unlockErr[2] = errors.New("deadlock detected")
	learners := learnerRepo(models.Learner{ID: 1, LessonsCompleted: 1, TotalXP: 150})
	svc := NewServiceWithInterfaces(repo, learners, nil, logger.NewNop())

	results, err := svc.CheckAndUnlock(context.Background(), 1, Context{Trigger: models.TriggerXPEarned})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "xp_100", results[0].Code)
}

func TestCheckAndUnlock_RewardFeedsLaterCriteria(t *testing.T) {
	repo := newMockRepository(
		newDef("first_lesson", models.Criteria{Kind: models.CriteriaFirstLesson}, 50),
		newDef("xp_100", models.Criteria{Kind: models.CriteriaTotalXP, Threshold: 100}, 0),
	)
	learners := learnerRepo(models.Learner{ID: 1, LessonsCompleted: 1, TotalXP: 60})
	svc := NewServiceWithInterfaces(repo, learners, nil, logger.NewNop())

	results, err := svc.CheckAndUnlock(context.Background(), 1, Context{Trigger: models.TriggerLessonCompleted})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestCheckAndUnlock_Validation(t *testing.T) {
	svc := NewServiceWithInterfaces(newMockRepository(), learnerRepo(), nil, logger.NewNop())

	_, err := svc.CheckAndUnlock(context.Background(), 1, Context{Trigger: "dance"})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = svc.CheckAndUnlock(context.Background(), 99, Context{Trigger: models.TriggerXPEarned})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCheckAndUnlock_CustomPredicate(t *testing.T) {
	repo := newMockRepository(newDef("night_owl", models.Criteria{Kind: models.CriteriaOpaque}, 0))
	learners := learnerRepo(models.Learner{ID: 1})
	registry := NewRegistry()
	registry.Register("night_owl", func(_ context.Context, in Input, _ *models.AchievementDefinition) (bool, error) {
		hour, _ := in.Context.Data["hour"].(float64)
		return hour >= 22, nil
	})
	svc := NewServiceWithInterfaces(repo, learners, registry, logger.NewNop())

	results, err := svc.CheckAndUnlock(context.Background(), 1, Context{
		Trigger: models.TriggerExerciseCompleted,
		Data:    map[string]any{"hour": float64(23)},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "night_owl", results[0].Code)
}

func TestSyncCatalog(t *testing.T) {
	repo := newMockRepository(newDef("old", models.Criteria{Kind: models.CriteriaFirstLesson}, 0))
	svc := NewServiceWithInterfaces(repo, learnerRepo(), nil, logger.NewNop())

	report, err := svc.SyncCatalog(context.Background(), []models.AchievementDefinition{
		newDef("first_lesson", models.Criteria{Kind: models.CriteriaFirstLesson}, 10),
		newDef("combo", models.Criteria{Kind: models.CriteriaExpression, Expr: "data.combo >= 10"}, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Upserted)
	assert.Equal(t, int64(1), report.Deactivated)

	active, _ := svc.ListActive(context.Background())
	assert.Len(t, active, 2)
}

func TestSyncCatalog_RejectsBadExpression(t *testing.T) {
	repo := newMockRepository()
	svc := NewServiceWithInterfaces(repo, learnerRepo(), nil, logger.NewNop())

	_, err := svc.SyncCatalog(context.Background(), []models.AchievementDefinition{
		newDef("bad", models.Criteria{Kind: models.CriteriaExpression, Expr: "data.combo >="}, 0),
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.Empty(t, repo.defs, "nothing written for a rejected catalog")
}
