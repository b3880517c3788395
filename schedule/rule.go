/*
rule.go - Next-occurrence algorithm

PURPOSE:
  NextOccurrence(descriptor, reference) -> instant. Pure and deterministic:
  the same inputs always give the same output, and the only collaborator is
  the optional WorkingCalendar, which is itself side-effect free.

ALGORITHM PER KIND:
  Daily:
    reference date + Interval days, at the run hour.

  Weekly:
    current = weekday(reference)
    if some w in Weekdays has w > current:   offset = w - current (smallest such w)
    else:                                    offset = (min(Weekdays) - current) mod 7,
                                                      or 7 when that is 0
    offset += (Interval - 1) * 7

    A day equal to the reference weekday therefore always resolves to NEXT
    week, never to the reference day itself.

    NOTE: Never compute the wrap as (7 - current) + target. That double counts
    whenever target < current and produced off-by-N-day schedules before.

  Monthly (day of month):
    target month = reference month + Interval, computed on year/month so a
    31st never spills into the following month. Day is clamped to the month
    length (31 -> 28/29 in February). If the candidate is not strictly after
    the reference, advance another Interval.

  Monthly (nth weekday):
    Same month stepping; pick the nth weekday, falling back to the last one
    when the month has no nth (e.g. no 5th Saturday).

  Working-day adjustment (opt-in per plan):
    Push the candidate forward one day at a time until the calendar says it
    is a working day.

SEE ALSO:
  - types.go:    Frequency descriptor and validation
  - calendar.go: WorkingCalendar
  - maintenance/generator.go, maintenance/projection.go: the two callers
*/
package schedule

import (
	"time"
)

// maxMonthSteps bounds the "advance one more interval" loop for monthly rules.
const maxMonthSteps = 24

// maxSpillMonths is how many months back a working-day adjusted monthly
// occurrence is traced to its nominal date.
const maxSpillMonths = 2

// Engine computes occurrences. The zero value is usable: occurrences are then
// computed in the reference's own location and without working-day adjustment.
type Engine struct {
	// Location all occurrences are expressed in. Nil means the reference's location.
	Location *time.Location

	// Calendar is consulted only for descriptors with SkipNonWorkingDays.
	Calendar WorkingCalendar
}

// NewEngine returns an Engine for loc. cal may be nil.
func NewEngine(loc *time.Location, cal WorkingCalendar) *Engine {
	return &Engine{Location: loc, Calendar: cal}
}

// NextOccurrence returns the first occurrence of f strictly after ref.
func (e *Engine) NextOccurrence(f Frequency, ref time.Time) (time.Time, error) {
	if err := f.Validate(); err != nil {
		return time.Time{}, err
	}
	f = f.Normalize()

	local := ref
	if e != nil && e.Location != nil {
		local = ref.In(e.Location)
	}

	var next time.Time
	switch f.Kind {
	case KindDaily:
		next = e.adjust(f, atHour(local, f.Hour()).AddDate(0, 0, f.Interval))
	case KindWeekly:
		next = e.adjust(f, atHour(local, f.Hour()).AddDate(0, 0, weeklyOffset(f, WeekdayOf(local))))
	case KindMonthly:
		// Months are stepped from the nominal date, so an adjustment that
		// spills into the following month does not skip that month.
		nominal := nextMonthly(f, e.monthlyAnchor(f, local))
		next = e.adjust(f, nominal)
		for i := 0; i < maxMonthSteps && !next.After(local); i++ {
			nominal = nextMonthly(f, nominal)
			next = e.adjust(f, nominal)
		}
	}
	return next, nil
}

// adjust moves t to the next working day when f opts in and a calendar is set.
func (e *Engine) adjust(f Frequency, t time.Time) time.Time {
	if f.SkipNonWorkingDays && e != nil && e.Calendar != nil && !e.Calendar.IsWorkingDay(t) {
		return e.Calendar.NextWorkingDay(t)
	}
	return t
}

// monthlyAnchor returns the nominal occurrence that ref is the working-day
// adjusted form of, when that occurrence lies in an earlier month. Otherwise
// ref itself is returned.
func (e *Engine) monthlyAnchor(f Frequency, ref time.Time) time.Time {
	if !f.SkipNonWorkingDays || e == nil || e.Calendar == nil {
		return ref
	}
	loc := ref.Location()
	for back := 1; back <= maxSpillMonths; back++ {
		first := time.Date(ref.Year(), ref.Month()-time.Month(back), 1, 0, 0, 0, 0, loc)
		nominal := monthlyDate(f, first.Year(), first.Month(), loc)
		if nominal.Before(ref) && e.adjust(f, nominal).Equal(ref) {
			return nominal
		}
	}
	return ref
}

// Occurrences returns every occurrence inside [start, end], beginning with
// first itself and then following NextOccurrence. At most limit values are
// returned (limit <= 0 means no explicit limit beyond the window).
func (e *Engine) Occurrences(f Frequency, first, start, end time.Time, limit int) ([]time.Time, error) {
	var out []time.Time
	occ := first
	for !occ.After(end) {
		if !occ.Before(start) {
			out = append(out, occ)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		next, err := e.NextOccurrence(f, occ)
		if err != nil {
			return out, err
		}
		occ = next
	}
	return out, nil
}

// Upcoming returns the next n occurrences after ref.
func (e *Engine) Upcoming(f Frequency, ref time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	occ := ref
	for i := 0; i < n; i++ {
		next, err := e.NextOccurrence(f, occ)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		occ = next
	}
	return out, nil
}

// weeklyOffset is the number of days from current to the next occurrence.
// f.Weekdays must be normalized (sorted ascending).
func weeklyOffset(f Frequency, current Weekday) int {
	offset := -1
	for _, w := range f.Weekdays {
		if w > current {
			offset = int(w - current)
			break
		}
	}
	if offset < 0 {
		offset = ((int(f.Weekdays[0]-current) % 7) + 7) % 7
		if offset == 0 {
			offset = 7
		}
	}
	return offset + (f.Interval-1)*7
}

func nextMonthly(f Frequency, local time.Time) time.Time {
	loc := local.Location()
	y, m := local.Year(), local.Month()

	var candidate time.Time
	for i := 1; i <= maxMonthSteps; i++ {
		first := time.Date(y, m+time.Month(f.Interval*i), 1, 0, 0, 0, 0, loc)
		candidate = monthlyDate(f, first.Year(), first.Month(), loc)
		if candidate.After(local) {
			break
		}
	}
	return candidate
}

// monthlyDate is the unadjusted occurrence of f inside the given month.
func monthlyDate(f Frequency, year int, month time.Month, loc *time.Location) time.Time {
	var day int
	if f.UsesNth() {
		day = nthWeekdayOfMonth(year, month, f.Nth, f.NthWeekday, loc)
	} else {
		day = min(f.DayOfMonth, DaysIn(year, month))
	}
	return time.Date(year, month, day, f.Hour(), 0, 0, 0, loc)
}

// nthWeekdayOfMonth returns the day number of the nth wd in the month, or of
// the last wd when the month has fewer than n of them.
func nthWeekdayOfMonth(year int, month time.Month, nth int, wd Weekday, loc *time.Location) int {
	days := DaysIn(year, month)
	if nth != LastOccurrence {
		first := WeekdayOf(time.Date(year, month, 1, 0, 0, 0, 0, loc))
		day := 1 + (int(wd-first)+7)%7 + (nth-1)*7
		if day <= days {
			return day
		}
	}
	last := WeekdayOf(time.Date(year, month, days, 0, 0, 0, 0, loc))
	return days - (int(last-wd)+7)%7
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
