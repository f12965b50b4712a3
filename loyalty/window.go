/*
window.go - Calendar-date helpers for award windows and year boundaries

PURPOSE:
  The award engine works in calendar-date terms: "is today inside the
  window [event date - lead days, event date + validity days]?". These
  helpers keep that arithmetic in one place, always at day granularity
  in UTC.

WINDOW SEMANTICS:
  A window is inclusive on both ends. For NewYear (Jan 1) with 3 lead days
  and 14 validity days, the 2025 occurrence window runs Dec 29 2024 through
  Jan 15 2025: a user reconciling on either boundary day is awarded, one
  day outside is not.

SEE ALSO:
  - award.go: The only consumer of Window
*/
package loyalty

import "time"

// =============================================================================
// DAY BOUNDARIES
// =============================================================================

// StartOfDay truncates an instant to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last second of the instant's day in UTC. Grant
// expiries land here so that the final validity day is fully usable.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// SameMonthDay reports whether two instants share a calendar month and day.
// Years are ignored. A Feb 29 birth date therefore matches only in leap
// years; there is no Feb 28/Mar 1 remapping.
func SameMonthDay(a, b time.Time) bool {
	return a.Month() == b.Month() && a.Day() == b.Day()
}

// =============================================================================
// AWARD WINDOW
// =============================================================================

// Window is an inclusive calendar-date range at day granularity.
type Window struct {
	Start time.Time
	End   time.Time
}

// AwardWindow computes the award window around an event occurrence:
// [occurrence - leadDays, occurrence + validityDays], both inclusive.
func AwardWindow(occurrence time.Time, leadDays, validityDays int) Window {
	day := StartOfDay(occurrence)
	return Window{
		Start: day.AddDate(0, 0, -leadDays),
		End:   day.AddDate(0, 0, validityDays),
	}
}

// Contains reports whether the instant's calendar day falls inside the
// window, boundaries included.
func (w Window) Contains(t time.Time) bool {
	day := StartOfDay(t)
	return !day.Before(w.Start) && !day.After(w.End)
}

// DaysUntil returns whole days from now until a deadline, floored at zero.
// Matches the "N days left" figure shown next to an expiring bonus.
func DaysUntil(now, deadline time.Time) int {
	d := int(deadline.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
