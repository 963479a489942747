package derive

import "time"

// dailyWindow returns the start of the service day containing now and the
// start of the next one. A service day begins at hour:00 local time, so at
// 05:59 the window still belongs to yesterday.
func dailyWindow(now time.Time, hour int) (start, next time.Time) {
	start = time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if now.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start, start.AddDate(0, 0, 1)
}

// weeklyWindow returns the start of the week containing now, anchored at
// weekday hour:00 local time, and the start of the following week.
func weeklyWindow(now time.Time, weekday time.Weekday, hour int) (start, next time.Time) {
	daysBack := (int(now.Weekday()) - int(weekday) + 7) % 7
	start = time.Date(now.Year(), now.Month(), now.Day()-daysBack, hour, 0, 0, 0, now.Location())
	if now.Before(start) {
		start = start.AddDate(0, 0, -7)
	}
	return start, start.AddDate(0, 0, 7)
}

// serviceDay maps an instant to the calendar date of the service day it
// falls in, expressed as days since the Unix epoch so consecutive days
// differ by exactly one. Computing on the civil date keeps DST transitions
// from shifting the boundary.
func serviceDay(t time.Time, loc *time.Location, hour int) int64 {
	local := t.In(loc)
	y, m, d := local.Date()
	if local.Hour() < hour {
		d--
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
