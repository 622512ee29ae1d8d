package progress

import "time"

// NextStreak returns the streak after activity at now. Days are calendar
// days in loc. changed is false for repeat activity on the same day.
func NextStreak(current int, lastActivity *time.Time, now time.Time, loc *time.Location) (next int, changed bool) {
	if loc == nil {
		loc = time.UTC
	}
	if lastActivity == nil {
		return 1, true
	}

	days := calendarDays(lastActivity.In(loc), now.In(loc))
	switch {
	case days <= 0:
		if current < 1 {
			return 1, true
		}
		return current, false
	case days == 1:
		return current + 1, true
	default:
		return 1, true
	}
}

func calendarDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
