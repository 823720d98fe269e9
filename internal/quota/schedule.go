package quota

import "time"

// NextReset returns the first instant strictly after now that falls on
// weekday at hour:00 in loc.
func NextReset(now time.Time, weekday time.Weekday, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	days := (int(weekday) - int(local.Weekday()) + 7) % 7
	next := time.Date(local.Year(), local.Month(), local.Day()+days, hour, 0, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+days+7, hour, 0, 0, 0, loc)
	}
	return next
}
