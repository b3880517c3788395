package schedule

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// WORKING CALENDAR
// =============================================================================

// WorkingCalendar answers working-day questions for plans that opt into
// skipping weekends and holidays.
type WorkingCalendar interface {
	// IsWorkingDay is false for weekend days and holidays.
	IsWorkingDay(t time.Time) bool

	// NextWorkingDay advances t one day at a time (keeping the clock time)
	// until IsWorkingDay holds. The result is always after t.
	NextWorkingDay(t time.Time) time.Time
}

// MonthDay is a recurring calendar date such as 12-25.
type MonthDay struct {
	Month time.Month
	Day   int
}

func (md MonthDay) String() string { return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day) }

// ParseMonthDay parses "MM-DD".
func ParseMonthDay(s string) (MonthDay, error) {
	t, err := time.Parse("01-02", s)
	if err != nil {
		return MonthDay{}, fmt.Errorf("invalid month-day %q: %w", s, err)
	}
	return MonthDay{Month: t.Month(), Day: t.Day()}, nil
}

// Holiday is a non-working day. Recurring holidays repeat every year on the
// same month-day; others apply to Date only.
type Holiday struct {
	Name      string
	Date      time.Time
	Recurring bool
}

// StaticCalendar is built once at startup and never mutated afterwards, so it
// is safe for concurrent use.
type StaticCalendar struct {
	Locale string

	weekend   map[time.Weekday]bool
	recurring map[MonthDay]string
	dated     map[string]string // YYYY-MM-DD -> name
}

// NewStaticCalendar returns a calendar with the given weekend days and holidays.
func NewStaticCalendar(locale string, weekend []time.Weekday, holidays []Holiday) (*StaticCalendar, error) {
	c := &StaticCalendar{
		Locale:    locale,
		weekend:   make(map[time.Weekday]bool),
		recurring: make(map[MonthDay]string),
		dated:     make(map[string]string),
	}
	for _, wd := range weekend {
		c.weekend[wd] = true
	}
	if len(c.weekend) >= 7 {
		return nil, ErrNoWorkingDay
	}
	for _, h := range holidays {
		if h.Recurring {
			c.recurring[MonthDay{Month: h.Date.Month(), Day: h.Date.Day()}] = h.Name
		} else {
			c.dated[h.Date.Format("2006-01-02")] = h.Name
		}
	}
	return c, nil
}

// DefaultWeekend is Saturday and Sunday.
func DefaultWeekend() []time.Weekday { return []time.Weekday{time.Saturday, time.Sunday} }

func (c *StaticCalendar) IsWorkingDay(t time.Time) bool {
	if c.weekend[t.Weekday()] {
		return false
	}
	_, holiday := c.HolidayName(t)
	return !holiday
}

func (c *StaticCalendar) NextWorkingDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	// A year of consecutive holidays is a configuration error; stop there.
	for i := 0; i < 366 && !c.IsWorkingDay(next); i++ {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// HolidayName returns the holiday falling on t, if any.
func (c *StaticCalendar) HolidayName(t time.Time) (string, bool) {
	if name, ok := c.dated[t.Format("2006-01-02")]; ok {
		return name, true
	}
	name, ok := c.recurring[MonthDay{Month: t.Month(), Day: t.Day()}]
	return name, ok
}

// Holidays lists the holidays of a given year, recurring ones included.
func (c *StaticCalendar) Holidays(year int) []Holiday {
	var out []Holiday
	for md, name := range c.recurring {
		out = append(out, Holiday{Name: name, Date: time.Date(year, md.Month, md.Day, 0, 0, 0, 0, time.UTC), Recurring: true})
	}
	for key, name := range c.dated {
		d, _ := time.Parse("2006-01-02", key)
		if d.Year() == year {
			out = append(out, Holiday{Name: name, Date: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
