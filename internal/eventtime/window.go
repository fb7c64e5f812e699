package eventtime

import "time"

// Window is a closed query interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Windows returns the two query windows for now in loc: the rest of today,
// then all of tomorrow. Each day ends one millisecond before midnight.
func Windows(now time.Time, loc *time.Location) []Window {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	tomorrow := midnight.AddDate(0, 0, 1)
	dayAfter := midnight.AddDate(0, 0, 2)

	return []Window{
		{Start: now, End: tomorrow.Add(-time.Millisecond)},
		{Start: tomorrow, End: dayAfter.Add(-time.Millisecond)},
	}
}
