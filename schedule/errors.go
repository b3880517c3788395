package schedule

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInterval is returned when the interval is zero or negative.
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrEmptyWeekdays is returned for a weekly descriptor without weekdays.
	ErrEmptyWeekdays = errors.New("weekly frequency requires at least one weekday")

	// ErrInvalidWeekday is returned for a weekday outside Monday(0)..Sunday(6).
	ErrInvalidWeekday = errors.New("weekday out of range")

	// ErrInvalidDayOfMonth is returned for a day of month outside 1..31.
	ErrInvalidDayOfMonth = errors.New("day of month must be between 1 and 31")

	// ErrInvalidNth is returned for an nth occurrence outside 1..5 and "last".
	ErrInvalidNth = errors.New("nth occurrence must be 1-5 or last")

	// ErrAmbiguousMonthly is returned when a monthly descriptor sets both or
	// neither of day-of-month and nth-weekday.
	ErrAmbiguousMonthly = errors.New("monthly frequency needs exactly one of day_of_month or nth weekday")

	// ErrInvalidRunHour is returned for a run hour outside 0..23.
	ErrInvalidRunHour = errors.New("run hour must be between 0 and 23")

	// ErrUnknownKind is returned for an unrecognised frequency kind.
	ErrUnknownKind = errors.New("unknown frequency kind")

	// ErrNoWorkingDay is returned by calendar construction when every
	// weekday is configured as a weekend day.
	ErrNoWorkingDay = errors.New("calendar has no working days")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// DescriptorError identifies the offending field of a malformed Frequency.
type DescriptorError struct {
	Field string
	Value any
	Err   error
}

func (e *DescriptorError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid frequency %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid frequency %s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *DescriptorError) Unwrap() error { return e.Err }

func descriptorErr(field string, value any, err error) error {
	return &DescriptorError{Field: field, Value: value, Err: err}
}

// IsDescriptorError reports whether err stems from a malformed descriptor.
func IsDescriptorError(err error) bool {
	var de *DescriptorError
	return errors.As(err, &de)
}
