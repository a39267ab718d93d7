// Package businesstime converts wall-clock intervals into business-hour
// intervals. It is the leaf dependency of the whole agent: the SLA
// classifier calls it to turn an opportunity's age into "elapsed business
// hours", the only unit SLA thresholds are expressed in.
//
// Daylight-savings is not handled; timestamps are assumed to carry a fixed
// offset from UTC. A day with zero intersection with the queried interval
// contributes zero, never a negative duration.
package businesstime

import "time"

// Config is read at the start of every calculation so that an operator
// edit to work hours takes effect on the next call, never mid-calculation.
type Config struct {
	// WorkStartHour is the first hour of the business day, 0-23.
	WorkStartHour int
	// WorkEndHour is the first hour after the business day ends, 1-24.
	// Must be greater than WorkStartHour.
	WorkEndHour int
	// WorkDays is the set of working weekdays, 1=Monday ... 7=Sunday.
	WorkDays map[time.Weekday]bool
}

// DefaultConfig is the standard business calendar: 09:00-19:00, Mon-Fri.
func DefaultConfig() Config {
	return NewConfig(9, 19, []int{1, 2, 3, 4, 5})
}

// NewConfig builds a Config from the 1-7 weekday numbering used by the
// rest of the agent's configuration surface, converting to time.Weekday
// (0=Sunday) internally.
func NewConfig(startHour, endHour int, workDays []int) Config {
	days := make(map[time.Weekday]bool, len(workDays))
	for _, d := range workDays {
		days[isoWeekdayToTime(d)] = true
	}
	return Config{WorkStartHour: startHour, WorkEndHour: endHour, WorkDays: days}
}

// isoWeekdayToTime converts 1=Mon..7=Sun to time.Weekday's 0=Sun..6=Sat.
func isoWeekdayToTime(d int) time.Weekday {
	if d == 7 {
		return time.Sunday
	}
	return time.Weekday(d)
}

// IsBusinessTime reports whether t falls within a configured working
// weekday and working hour window.
func (c Config) IsBusinessTime(t time.Time) bool {
	if !c.WorkDays[t.Weekday()] {
		return false
	}
	h := t.Hour()
	return h >= c.WorkStartHour && h < c.WorkEndHour
}

// NextBusinessStart returns the smallest t' >= t, truncated to the minute,
// such that IsBusinessTime(t') holds. If t already falls inside a business
// window it is returned unchanged (truncated to the minute).
func (c Config) NextBusinessStart(t time.Time) time.Time {
	t = t.Truncate(time.Minute)
	if c.IsBusinessTime(t) {
		return t
	}

	// Walk forward day by day (bounded: at most 8 days to guarantee
	// termination even if WorkDays were misconfigured to a single day).
	for i := 0; i < 8; i++ {
		dayStart := startOfDay(t).AddDate(0, 0, i)
		if !c.WorkDays[dayStart.Weekday()] {
			continue
		}
		windowStart := dayStart.Add(time.Duration(c.WorkStartHour) * time.Hour)
		windowEnd := dayStart.Add(time.Duration(c.WorkEndHour) * time.Hour)
		if i == 0 {
			// Same day: if we're before the window, jump to its start;
			// if we're past it, the loop continues to the next day.
			if t.Before(windowStart) {
				return windowStart
			}
			if t.Before(windowEnd) {
				return t
			}
			continue
		}
		return windowStart
	}

	// Unreachable for any valid Config (WorkDays is non-empty), but
	// return a deterministic value rather than panic.
	return t
}

// BusinessHoursBetween sums the minutes that lie inside business windows
// between a and b, returned in hours. Returns 0 if a >= b.
//
// Algorithm: walk day by day across [date(a), date(b)], skipping
// non-working days, intersecting each day's business window with [a, b],
// and accumulating the intersection length. Half-minutes are truncated
// downward to the whole minute.
func (c Config) BusinessHoursBetween(a, b time.Time) float64 {
	if !a.Before(b) {
		return 0
	}

	totalMinutes := 0.0
	day := startOfDay(a)
	last := startOfDay(b)

	for !day.After(last) {
		if c.WorkDays[day.Weekday()] {
			windowStart := day.Add(time.Duration(c.WorkStartHour) * time.Hour)
			windowEnd := day.Add(time.Duration(c.WorkEndHour) * time.Hour)

			start := maxTime(windowStart, a)
			end := minTime(windowEnd, b)

			if start.Before(end) {
				minutes := end.Sub(start).Minutes()
				totalMinutes += minutes
			}
		}
		day = day.AddDate(0, 0, 1)
	}

	// Truncate to whole minutes before converting to hours, per the
	// half-minute tie-break rule.
	totalMinutes = float64(int64(totalMinutes))
	return totalMinutes / 60.0
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
