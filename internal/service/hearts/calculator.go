// Package hearts implements the lives mechanic: timer-based recovery and the
// instant ad-heart grant.
package hearts

import "time"

// Defaults used when configuration leaves a value unset.
const (
	DefaultMaxHearts     = 5
	DefaultRegenInterval = 30 * time.Minute
	DefaultAdCooldown    = time.Hour
)

// Recovery is the outcome of Calculate.
type Recovery struct {
	HeartsToRecover    int
	NextRecoveryTime   *time.Time
	TimeUntilNextHeart time.Duration
}

// Calculate returns how many hearts have regenerated since lastLoss and when
// the next one will. A nil lastLoss starts the clock at now. At or above
// maxHearts nothing regenerates and NextRecoveryTime is nil.
func Calculate(current int, lastLoss *time.Time, now time.Time, maxHearts int, interval time.Duration) Recovery {
	if current >= maxHearts || interval <= 0 {
		return Recovery{}
	}

	var elapsed time.Duration
	if lastLoss != nil {
		elapsed = now.Sub(*lastLoss)
	}
	if elapsed < 0 {
		elapsed = 0
	}

	recovered := min(int(elapsed/interval), maxHearts-current)
	rec := Recovery{HeartsToRecover: recovered}

	if current+recovered < maxHearts {
		rec.TimeUntilNextHeart = interval - elapsed%interval
		next := now.Add(rec.TimeUntilNextHeart)
		rec.NextRecoveryTime = &next
	}
	return rec
}
