package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/warp/maintenance-engine/factory"
	"github.com/warp/maintenance-engine/schedule"
	"gopkg.in/yaml.v3"
)

// CalendarFile is the YAML working-calendar definition:
//
//	locale: es-CL
//	weekend: [saturday, domingo]
//	holidays:
//	  - name: Año Nuevo
//	    date: "01-01"        # MM-DD repeats every year
//	  - name: Viernes Santo
//	    date: "2025-04-18"   # YYYY-MM-DD applies once
type CalendarFile struct {
	Locale   string         `yaml:"locale"`
	Weekend  []string       `yaml:"weekend"`
	Holidays []HolidayEntry `yaml:"holidays"`
}

type HolidayEntry struct {
	Name string `yaml:"name"`
	Date string `yaml:"date"`
}

// LoadCalendarFile reads and parses path.
func LoadCalendarFile(path string) (CalendarFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CalendarFile{}, fmt.Errorf("failed to read calendar file: %w", err)
	}
	return ParseCalendar(data)
}

// ParseCalendar parses calendar YAML.
func ParseCalendar(data []byte) (CalendarFile, error) {
	var cf CalendarFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return CalendarFile{}, fmt.Errorf("failed to parse calendar YAML: %w", err)
	}
	return cf, nil
}

// HolidayList converts the entries to schedule.Holiday values.
func (cf CalendarFile) HolidayList() ([]schedule.Holiday, error) {
	out := make([]schedule.Holiday, 0, len(cf.Holidays))
	for _, h := range cf.Holidays {
		date := strings.TrimSpace(h.Date)
		if len(date) == len("01-02") {
			md, err := schedule.ParseMonthDay(date)
			if err != nil {
				return nil, fmt.Errorf("holiday %q: %w", h.Name, err)
			}
			out = append(out, schedule.Holiday{
				Name:      h.Name,
				Date:      time.Date(2000, md.Month, md.Day, 0, 0, 0, 0, time.UTC),
				Recurring: true,
			})
			continue
		}
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: invalid date %q", h.Name, h.Date)
		}
		out = append(out, schedule.Holiday{Name: h.Name, Date: t})
	}
	return out, nil
}

// WeekendDays parses the weekend names; empty means Saturday and Sunday.
func (cf CalendarFile) WeekendDays() ([]time.Weekday, error) {
	if len(cf.Weekend) == 0 {
		return schedule.DefaultWeekend(), nil
	}
	out := make([]time.Weekday, 0, len(cf.Weekend))
	for _, name := range cf.Weekend {
		wd, err := factory.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		out = append(out, wd.TimeWeekday())
	}
	return out, nil
}

// Calendar builds the StaticCalendar from the file plus extra holidays
// (typically those stored in the database).
func (cf CalendarFile) Calendar(extra []schedule.Holiday) (*schedule.StaticCalendar, error) {
	weekend, err := cf.WeekendDays()
	if err != nil {
		return nil, err
	}
	holidays, err := cf.HolidayList()
	if err != nil {
		return nil, err
	}
	return schedule.NewStaticCalendar(cf.Locale, weekend, append(holidays, extra...))
}
