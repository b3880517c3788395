/*
Package schedule computes preventive-maintenance due dates.

PURPOSE:
  Everything in this package is pure date arithmetic. Given a frequency
  descriptor and a reference instant, the Engine returns the next instant at
  which a plan falls due. The same Engine value is shared by the order
  generator (which materializes work orders) and the calendar projector
  (which only displays dates), so both always agree.

KEY CONCEPTS IN THIS FILE (types.go):
  - Weekday:   Monday=0 .. Sunday=6 (NOT time.Weekday ordering)
  - Kind:      daily, weekly, monthly
  - Frequency: the strict tagged descriptor stored on every plan

DESCRIPTOR SHAPES:
  Daily:    Interval days
  Weekly:   Interval weeks, Weekdays (non-empty set)
  Monthly:  Interval months, and EITHER DayOfMonth (1-31, clamped to the
            month length) OR Nth + NthWeekday (e.g. 2nd Saturday, last Friday)

  Loosely typed legacy encodings ("lunes,miércoles", JSON strings, ...) are
  parsed ONCE by the factory package. Nothing in here re-parses strings.

SEE ALSO:
  - rule.go:     NextOccurrence algorithm
  - calendar.go: Working-day calendar
  - factory/frequency.go: Legacy encoding normalisation
*/
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// WEEKDAY - Monday-based weekday index
// =============================================================================

// Weekday is a day of the week with Monday=0 and Sunday=6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayOf returns the Monday-based weekday of t.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// FromTimeWeekday converts a time.Weekday (Sunday=0) to a Weekday.
func FromTimeWeekday(wd time.Weekday) Weekday {
	return Weekday((int(wd) + 6) % 7)
}

// TimeWeekday converts back to the standard library ordering.
func (w Weekday) TimeWeekday() time.Weekday {
	return time.Weekday((int(w) + 1) % 7)
}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// =============================================================================
// KIND
// =============================================================================

type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// LastOccurrence selects the last matching weekday of a month.
const LastOccurrence = -1

// DefaultRunHour is the local hour at which occurrences fall due.
const DefaultRunHour = 6

// =============================================================================
// FREQUENCY - Tagged descriptor
// =============================================================================

// Frequency describes how often a plan recurs.
//
// Only the fields relevant to Kind are meaningful. Validate rejects
// descriptors that mix monthly variants or leave required fields empty.
type Frequency struct {
	Kind     Kind
	Interval int

	// Weekly
	Weekdays []Weekday

	// Monthly, by day of month
	DayOfMonth int

	// Monthly, by nth weekday. Nth is 1..5 or LastOccurrence.
	Nth        int
	NthWeekday Weekday

	// RunHour is the hour of day (0-23) of every occurrence. Nil means
	// DefaultRunHour, so an explicit midnight stays distinguishable.
	RunHour *int

	// SkipNonWorkingDays pushes occurrences forward to the next working day.
	SkipNonWorkingDays bool
}

// Daily returns a daily descriptor.
func Daily(interval int) Frequency {
	return Frequency{Kind: KindDaily, Interval: interval}
}

// Weekly returns a normalized weekly descriptor.
func Weekly(interval int, days ...Weekday) Frequency {
	return Frequency{Kind: KindWeekly, Interval: interval, Weekdays: normalizeWeekdays(days)}
}

// MonthlyOnDay returns a monthly descriptor anchored on a day of the month.
func MonthlyOnDay(interval, day int) Frequency {
	return Frequency{Kind: KindMonthly, Interval: interval, DayOfMonth: day}
}

// MonthlyOnNth returns a monthly descriptor anchored on the nth weekday.
func MonthlyOnNth(interval, nth int, wd Weekday) Frequency {
	return Frequency{Kind: KindMonthly, Interval: interval, Nth: nth, NthWeekday: wd}
}

// WithRunHour returns a copy of f that falls due at hour.
func (f Frequency) WithRunHour(hour int) Frequency {
	f.RunHour = &hour
	return f
}

// SkippingNonWorkingDays returns a copy of f with working-day adjustment on.
func (f Frequency) SkippingNonWorkingDays() Frequency {
	f.SkipNonWorkingDays = true
	return f
}

// Hour returns the effective run hour.
func (f Frequency) Hour() int {
	if f.RunHour == nil {
		return DefaultRunHour
	}
	return *f.RunHour
}

// UsesNth reports whether a monthly descriptor is anchored on a weekday.
func (f Frequency) UsesNth() bool { return f.Nth != 0 }

// Normalize sorts and de-duplicates the weekday set.
func (f Frequency) Normalize() Frequency {
	f.Weekdays = normalizeWeekdays(f.Weekdays)
	return f
}

func normalizeWeekdays(days []Weekday) []Weekday {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[Weekday]bool, len(days))
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate reports the first problem with the descriptor, if any.
// The returned error is a *DescriptorError wrapping one of the sentinels.
func (f Frequency) Validate() error {
	if f.Interval <= 0 {
		return descriptorErr("interval", f.Interval, ErrInvalidInterval)
	}
	if h := f.Hour(); h < 0 || h > 23 {
		return descriptorErr("run_hour", h, ErrInvalidRunHour)
	}

	switch f.Kind {
	case KindDaily:
		return nil

	case KindWeekly:
		if len(f.Weekdays) == 0 {
			return descriptorErr("weekdays", nil, ErrEmptyWeekdays)
		}
		for _, d := range f.Weekdays {
			if !d.Valid() {
				return descriptorErr("weekdays", int(d), ErrInvalidWeekday)
			}
		}
		return nil

	case KindMonthly:
		byDay := f.DayOfMonth != 0
		byNth := f.Nth != 0
		if byDay == byNth {
			return descriptorErr("monthly", nil, ErrAmbiguousMonthly)
		}
		if byDay {
			if f.DayOfMonth < 1 || f.DayOfMonth > 31 {
				return descriptorErr("day_of_month", f.DayOfMonth, ErrInvalidDayOfMonth)
			}
			return nil
		}
		if f.Nth != LastOccurrence && (f.Nth < 1 || f.Nth > 5) {
			return descriptorErr("nth_occurrence", f.Nth, ErrInvalidNth)
		}
		if !f.NthWeekday.Valid() {
			return descriptorErr("weekday", int(f.NthWeekday), ErrInvalidWeekday)
		}
		return nil

	default:
		return descriptorErr("kind", string(f.Kind), ErrUnknownKind)
	}
}

// Describe returns a short English summary, e.g. "every 2 weeks on monday, friday".
func (f Frequency) Describe() string {
	unit := map[Kind]string{KindDaily: "day", KindWeekly: "week", KindMonthly: "month"}[f.Kind]
	if unit == "" {
		return string(f.Kind)
	}

	every := "every " + unit
	if f.Interval > 1 {
		every = fmt.Sprintf("every %d %ss", f.Interval, unit)
	}

	switch f.Kind {
	case KindWeekly:
		names := make([]string, len(f.Weekdays))
		for i, d := range f.Weekdays {
			names[i] = d.String()
		}
		every += " on " + strings.Join(names, ", ")
	case KindMonthly:
		if f.UsesNth() {
			every += fmt.Sprintf(" on the %s %s", ordinal(f.Nth), f.NthWeekday)
		} else {
			every += fmt.Sprintf(" on day %d", f.DayOfMonth)
		}
	}
	if f.SkipNonWorkingDays {
		every += " (working days only)"
	}
	return every
}

func ordinal(n int) string {
	switch n {
	case LastOccurrence:
		return "last"
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
