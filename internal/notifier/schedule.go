// ABOUTME: Wall-clock schedule arithmetic for the daily and weekly jobs
// ABOUTME: Computes the next run strictly after a given instant in a location

package notifier

import "time"

// nextDaily returns the first hour:00 in loc strictly after now.
func nextDaily(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// nextWeekly returns the first weekday at hour:00 in loc strictly after now.
func nextWeekly(now time.Time, day time.Weekday, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	offset := (int(day) - int(local.Weekday()) + 7) % 7
	next := time.Date(local.Year(), local.Month(), local.Day()+offset, hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+offset+7, hour, 0, 0, 0, loc)
	}
	return next
}
