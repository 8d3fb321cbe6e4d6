// Package schedule provides the company business-day calendar used to stamp
// backups and fill report date fields. A business day is a weekday that is
// not a company holiday.
package schedule

import "time"

// IsBusinessDay reports whether d is a working day.
func IsBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(d)
}

// PreviousBusinessDay returns the latest business day strictly before d.
func PreviousBusinessDay(d time.Time) time.Time {
	for {
		d = d.AddDate(0, 0, -1)
		if IsBusinessDay(d) {
			return d
		}
	}
}

// NextBusinessDay returns the earliest business day strictly after d.
func NextBusinessDay(d time.Time) time.Time {
	for {
		d = d.AddDate(0, 0, 1)
		if IsBusinessDay(d) {
			return d
		}
	}
}

// IsHoliday reports whether d falls on a company holiday.
func IsHoliday(d time.Time) bool {
	for _, h := range Holidays(d.Year()) {
		if sameDate(h, d) {
			return true
		}
	}
	return false
}

// Holidays returns the company holidays for the given year.
func Holidays(year int) []time.Time {
	thanksgiving := nthWeekday(year, time.November, time.Thursday, 4)
	holidays := []time.Time{
		date(year, time.January, 1),
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		lastWeekday(year, time.May, time.Monday),
		date(year, time.June, 19),
		independenceDay(year),
		nthWeekday(year, time.September, time.Monday, 1),
		thanksgiving,
		thanksgiving.AddDate(0, 0, 1),
		date(year, time.December, 24),
		date(year, time.December, 25),
	}
	return holidays
}

// independenceDay returns July 4 shifted to the nearest weekday when it
// falls on a weekend.
func independenceDay(year int) time.Time {
	d := date(year, time.July, 4)
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the nth given weekday of a month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := date(year, month, 1)
	offset := (int(weekday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last given weekday of a month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(weekday) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
