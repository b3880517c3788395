package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/schedule"
)

func TestStaticCalendar_WeekendsAndHolidays(t *testing.T) {
	cal := testCalendar(t)

	assert.True(t, cal.IsWorkingDay(at(2025, time.January, 2, 6)), "thursday")
	assert.False(t, cal.IsWorkingDay(at(2025, time.January, 4, 6)), "saturday")
	assert.False(t, cal.IsWorkingDay(at(2025, time.January, 5, 6)), "sunday")
	assert.False(t, cal.IsWorkingDay(at(2025, time.January, 1, 6)), "recurring holiday")
	assert.False(t, cal.IsWorkingDay(at(2031, time.January, 1, 6)), "recurring holiday, other year")
	assert.False(t, cal.IsWorkingDay(at(2025, time.April, 18, 6)), "dated holiday")
	assert.True(t, cal.IsWorkingDay(at(2026, time.April, 17, 6)), "dated holiday does not recur")

	name, ok := cal.HolidayName(at(2027, time.January, 1, 0))
	assert.True(t, ok)
	assert.Equal(t, "Año Nuevo", name)
}

func TestStaticCalendar_NextWorkingDayKeepsClock(t *testing.T) {
	cal := testCalendar(t)

	// Good Friday 2025 -> skip weekend -> Monday.
	assert.Equal(t, at(2025, time.April, 21, 6), cal.NextWorkingDay(at(2025, time.April, 18, 6)))
	// Always strictly after, even from a working day.
	assert.Equal(t, at(2025, time.January, 3, 9), cal.NextWorkingDay(at(2025, time.January, 2, 9)))
}

func TestStaticCalendar_RejectsAllWeekend(t *testing.T) {
	all := []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	_, err := schedule.NewStaticCalendar("", all, nil)
	assert.ErrorIs(t, err, schedule.ErrNoWorkingDay)
}

func TestStaticCalendar_HolidaysForYear(t *testing.T) {
	got := testCalendar(t).Holidays(2025)
	require.Len(t, got, 2)
	assert.Equal(t, at(2025, time.January, 1, 0), got[0].Date)
	assert.True(t, got[0].Recurring)
	assert.Equal(t, "Viernes Santo", got[1].Name)
}

func TestWeekdayConversions(t *testing.T) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		assert.Equal(t, wd, schedule.FromTimeWeekday(wd).TimeWeekday())
	}
	assert.Equal(t, schedule.Monday, schedule.FromTimeWeekday(time.Monday))
	assert.Equal(t, schedule.Sunday, schedule.FromTimeWeekday(time.Sunday))
	assert.Equal(t, schedule.Sunday, schedule.WeekdayOf(at(2025, time.January, 5, 0)))
}

func TestParseMonthDay(t *testing.T) {
	md, err := schedule.ParseMonthDay("09-18")
	require.NoError(t, err)
	assert.Equal(t, schedule.MonthDay{Month: time.September, Day: 18}, md)
	assert.Equal(t, "09-18", md.String())

	_, err = schedule.ParseMonthDay("18/09")
	assert.Error(t, err)
}
