package leaderboard

import (
	"fmt"
	"time"

	"github.com/aimd54/lingo-progression/internal/models"
)

// Bounds of the single all-time partition.
var (
	AllTimeStart = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	AllTimeEnd   = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// PeriodBounds returns the window of period that contains now. Day, week
// and month boundaries fall on local midnight in loc; weeks begin on
// weekStart. end is the start of the following window. Both are UTC.
func PeriodBounds(period models.Period, now time.Time, loc *time.Location, weekStart time.Weekday) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch period {
	case models.PeriodDaily:
		start = midnight
		end = midnight.AddDate(0, 0, 1)
	case models.PeriodWeekly:
		back := (int(local.Weekday()) - int(weekStart) + 7) % 7
		start = midnight.AddDate(0, 0, -back)
		end = start.AddDate(0, 0, 7)
	case models.PeriodMonthly:
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case models.PeriodAllTime:
		return AllTimeStart, AllTimeEnd, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown leaderboard period %q", period)
	}

	return start.UTC(), end.UTC(), nil
}
