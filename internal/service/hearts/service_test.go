package hearts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/lingo-progression/internal/apperror"
	"github.com/aimd54/lingo-progression/internal/config"
	"github.com/aimd54/lingo-progression/internal/models"
	"github.com/aimd54/lingo-progression/pkg/logger"
)

// mockLearnerRepository mirrors the conditional-update semantics of the SQL
// repository.
type mockLearnerRepository struct {
	mu       sync.Mutex
	learners map[uint]*models.Learner
	receipts map[string]bool
	writes   int
}

func newMockLearnerRepository(learners ...*models.Learner) *mockLearnerRepository {
	m := &mockLearnerRepository{learners: make(map[uint]*models.Learner), receipts: make(map[string]bool)}
	for _, l := range learners {
		m.learners[l.ID] = l
	}
	return m
}

func (m *mockLearnerRepository) GetByID(ctx context.Context, id uint) (*models.Learner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.learners[id]
	if !ok {
		return nil, apperror.NotFound("learner", id)
	}
	cp := *l
	return &cp, nil
}

func (m *mockLearnerRepository) CompareAndSetHearts(ctx context.Context, id uint, expected, hearts int, lastLoss *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.learners[id]
	if l == nil || l.Hearts != expected {
		return false, nil
	}
	m.writes++
	l.Hearts = hearts
	l.LastHeartLossAt = lastLoss
	return true, nil
}

func (m *mockLearnerRepository) ConsumeHeart(ctx context.Context, id uint, now time.Time, dedupKey string, delta *models.ProgressDelta) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.learners[id]
	if l == nil {
		return false, false, apperror.NotFound("learner", id)
	}
	if dedupKey != "" {
		key := fmt.Sprintf("%d/%s", id, dedupKey)
		if m.receipts[key] {
			return false, true, nil
		}
		m.receipts[key] = true
	}
	if delta != nil {
		l.ExercisesCompleted += delta.Exercises
	}
	if l.Hearts == 0 {
		return false, false, nil
	}
	m.writes++
	l.Hearts--
	if l.LastHeartLossAt == nil {
		l.LastHeartLossAt = &now
	}
	return true, false, nil
}

func (m *mockLearnerRepository) GrantHeart(ctx context.Context, id uint, maxHearts int, now, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.learners[id]
	if l == nil || l.Hearts >= maxHearts || (l.LastAdHeartAt != nil && l.LastAdHeartAt.After(cutoff)) {
		return false, nil
	}
	m.writes++
	l.Hearts++
	l.LastAdHeartAt = &now
	if l.Hearts >= maxHearts {
		l.LastHeartLossAt = nil
	}
	return true, nil
}

func newTestService(repo LearnerRepository, now time.Time) *Service {
	svc := NewServiceWithInterfaces(repo, &config.HeartsConfig{
		Max:           5,
		RegenInterval: 30 * time.Minute,
		AdCooldown:    time.Hour,
	}, logger.NewNop())
	svc.SetClock(func() time.Time { return now })
	return svc
}

func TestApplyRecovery_CapsAtMax(t *testing.T) {
	loss := base.Add(-65 * time.Minute)
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 3, LastHeartLossAt: &loss})
	svc := newTestService(repo, base)

	status, err := svc.ApplyRecovery(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 5, status.Hearts)
	assert.Nil(t, status.NextRecoveryTime)

	stored, _ := repo.GetByID(context.Background(), 1)
	assert.Equal(t, 5, stored.Hearts)
	assert.Nil(t, stored.LastHeartLossAt, "loss clock is cleared at max hearts")
}

func TestApplyRecovery_CarriesRemainder(t *testing.T) {
	loss := base.Add(-70 * time.Minute)
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 1, LastHeartLossAt: &loss})
	svc := newTestService(repo, base)

	status, err := svc.ApplyRecovery(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Hearts)
	assert.Equal(t, 20*time.Minute, status.TimeUntilNextHeart)
	assert.Equal(t, int64(1200), status.SecondsUntilNextHeart)

	stored, _ := repo.GetByID(context.Background(), 1)
	require.NotNil(t, stored.LastHeartLossAt)
	assert.Equal(t, loss.Add(time.Hour), *stored.LastHeartLossAt)

	// Twenty minutes later exactly one more heart is due.
	svc.SetClock(func() time.Time { return base.Add(20 * time.Minute) })
	status, err = svc.ApplyRecovery(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, status.Hearts)
}

func TestApplyRecovery_NoWriteWhenNothingRecovered(t *testing.T) {
	loss := base.Add(-10 * time.Minute)
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 2, LastHeartLossAt: &loss})
	svc := newTestService(repo, base)

	status, err := svc.ApplyRecovery(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, status.Hearts)
	assert.Equal(t, 0, repo.writes)
	require.NotNil(t, status.NextRecoveryTime)
	assert.Equal(t, base.Add(20*time.Minute), *status.NextRecoveryTime)
}

func TestApplyRecovery_FullHeartsNoWrite(t *testing.T) {
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 5})
	svc := newTestService(repo, base)

	status, err := svc.ApplyRecovery(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 5, status.Hearts)
	assert.Nil(t, status.NextRecoveryTime)
	assert.Equal(t, 0, repo.writes)
}

func TestApplyRecovery_UnknownLearner(t *testing.T) {
	svc := newTestService(newMockLearnerRepository(), base)

	_, err := svc.ApplyRecovery(context.Background(), 42)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestLoseHeart_StartsClock(t *testing.T) {
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 5})
	svc := newTestService(repo, base)

	status, err := svc.LoseHeart(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 4, status.Hearts)
	require.NotNil(t, status.NextRecoveryTime)
	assert.Equal(t, base.Add(30*time.Minute), *status.NextRecoveryTime)
}

func TestLoseHeart_AtZero(t *testing.T) {
	loss := base.Add(-time.Minute)
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 0, LastHeartLossAt: &loss})
	svc := newTestService(repo, base)

	status, err := svc.LoseHeart(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Hearts)
}

func TestLoseHeartWith_ReplayedKeyCostsOneHeart(t *testing.T) {
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 5})
	svc := newTestService(repo, base)
	ctx := context.Background()

	status, duplicate, err := svc.LoseHeartWith(ctx, 1, "answer-7", &models.ProgressDelta{Exercises: 1})
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, 4, status.Hearts)

	status, duplicate, err = svc.LoseHeartWith(ctx, 1, "answer-7", &models.ProgressDelta{Exercises: 1})
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, 4, status.Hearts)

	stored, _ := repo.GetByID(ctx, 1)
	assert.Equal(t, 4, stored.Hearts)
	assert.Equal(t, 1, stored.ExercisesCompleted)
}

func TestLoseHeartWith_UnknownLearner(t *testing.T) {
	svc := newTestService(newMockLearnerRepository(), base)

	_, _, err := svc.LoseHeartWith(context.Background(), 9, "k", nil)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestStatus_JSONUsesSeconds(t *testing.T) {
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 5})
	svc := newTestService(repo, base)

	status, err := svc.LoseHeart(context.Background(), 1)
	require.NoError(t, err)

	raw, err := json.Marshal(status)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(1800), body["seconds_until_next_heart"])
	assert.NotContains(t, body, "time_until_next_heart")
}

func TestGrantAdHeart(t *testing.T) {
	loss := base.Add(-5 * time.Minute)
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 1, LastHeartLossAt: &loss})
	svc := newTestService(repo, base)

	status, err := svc.GrantAdHeart(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Hearts)

	_, err = svc.GrantAdHeart(context.Background(), 1)
	assert.ErrorIs(t, err, apperror.ErrCooldown)

	svc.SetClock(func() time.Time { return base.Add(61 * time.Minute) })
	status, err = svc.GrantAdHeart(context.Background(), 1)
	require.NoError(t, err)
	// 66 minutes since loss: two timer hearts, then one from the ad.
	assert.Equal(t, 5, status.Hearts)
}

func TestGrantAdHeart_Full(t *testing.T) {
	repo := newMockLearnerRepository(&models.Learner{ID: 1, Hearts: 5})
	svc := newTestService(repo, base)

	_, err := svc.GrantAdHeart(context.Background(), 1)
	assert.ErrorIs(t, err, apperror.ErrHeartsFull)
}
