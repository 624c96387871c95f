package recur

import "time"

// =============================================================================
// RECURRENCE CALCULATOR - Pure date advancement
// =============================================================================

// Next returns the next due date after current for the given pattern and
// interval. Pure and deterministic: no clock reads, no state.
//
// Month and year advancement CLAMP to the last valid day of the target month
// rather than rolling over: Jan 31 + 1 month = Feb 28 (Feb 29 in a leap
// year), and a yearly rule anchored on Feb 29 fires on Feb 28 in non-leap
// years. Native AddDate rollover would silently drift a month-end rule into
// the following month.
func Next(current Date, pattern Pattern, interval int) (Date, error) {
	if interval < 1 {
		return Date{}, &InvalidIntervalError{Interval: interval}
	}

	switch pattern {
	case PatternDaily:
		return current.AddDays(interval), nil
	case PatternWeekly:
		return current.AddDays(7 * interval), nil
	case PatternMonthly:
		return addMonthsClamped(current, interval), nil
	case PatternYearly:
		return addMonthsClamped(current, 12*interval), nil
	case PatternOnce:
		return Date{}, ErrPatternNotRecurring
	}
	return Date{}, &UnknownPatternError{Raw: string(pattern)}
}

// addMonthsClamped advances by whole months, keeping the day-of-month where
// possible and clamping to the last day of the target month otherwise.
func addMonthsClamped(d Date, months int) Date {
	year := d.Year()
	month := int(d.Month()) - 1 + months
	year += month / 12
	month = month % 12
	if month < 0 {
		month += 12
		year--
	}

	targetMonth := time.Month(month + 1)
	day := d.Day()
	if max := DaysInMonth(year, targetMonth); day > max {
		day = max
	}
	return NewDate(year, targetMonth, day)
}
