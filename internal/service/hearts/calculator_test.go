package hearts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCalculate_SixtyFiveMinutes(t *testing.T) {
	loss := base.Add(-65 * time.Minute)

	rec := Calculate(3, &loss, base, 5, 30*time.Minute)

	assert.Equal(t, 2, rec.HeartsToRecover)
	assert.Nil(t, rec.NextRecoveryTime, "hearts reach max, no further recovery scheduled")
	assert.Zero(t, rec.TimeUntilNextHeart)
}

func TestCalculate_FullHearts(t *testing.T) {
	loss := base.Add(-10 * time.Hour)

	rec := Calculate(5, &loss, base, 5, 30*time.Minute)

	assert.Equal(t, 0, rec.HeartsToRecover)
	assert.Nil(t, rec.NextRecoveryTime)
}

func TestCalculate_PartialRecovery(t *testing.T) {
	loss := base.Add(-40 * time.Minute)

	rec := Calculate(1, &loss, base, 5, 30*time.Minute)

	assert.Equal(t, 1, rec.HeartsToRecover)
	require.NotNil(t, rec.NextRecoveryTime)
	assert.Equal(t, 20*time.Minute, rec.TimeUntilNextHeart)
	assert.Equal(t, base.Add(20*time.Minute), *rec.NextRecoveryTime)
}

func TestCalculate_NoPriorLoss(t *testing.T) {
	rec := Calculate(2, nil, base, 5, 30*time.Minute)

	assert.Equal(t, 0, rec.HeartsToRecover)
	require.NotNil(t, rec.NextRecoveryTime)
	assert.Equal(t, 30*time.Minute, rec.TimeUntilNextHeart)
}

func TestCalculate_ClockSkew(t *testing.T) {
	future := base.Add(5 * time.Minute)

	rec := Calculate(2, &future, base, 5, 30*time.Minute)

	assert.Equal(t, 0, rec.HeartsToRecover)
	assert.Equal(t, 30*time.Minute, rec.TimeUntilNextHeart)
}

func TestCalculate_RecoveredMatchesElapsedIntervals(t *testing.T) {
	interval := 30 * time.Minute
	for current := 0; current < 5; current++ {
		for k := 0; k <= 7; k++ {
			for _, extra := range []time.Duration{0, time.Second, interval - time.Second} {
				loss := base.Add(-(time.Duration(k)*interval + extra))
				rec := Calculate(current, &loss, base, 5, interval)

				want := min(k, 5-current)
				if rec.HeartsToRecover != want {
					t.Errorf("current=%d k=%d extra=%v: got %d, want %d", current, k, extra, rec.HeartsToRecover, want)
				}
				if current+want == 5 && rec.NextRecoveryTime != nil {
					t.Errorf("current=%d k=%d: expected nil next recovery at max", current, k)
				}
				if current+want < 5 && (rec.TimeUntilNextHeart <= 0 || rec.TimeUntilNextHeart > interval) {
					t.Errorf("current=%d k=%d: time until next heart out of range: %v", current, k, rec.TimeUntilNextHeart)
				}
			}
		}
	}
}
