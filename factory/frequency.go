/*
Package factory converts JSON frequency definitions into schedule.Frequency.

PURPOSE:
  Plans reach us from the API, from the database and from older exports
  whose frequency columns were written by hand. This package is the one
  place where those loose encodings are accepted; everything past it works
  with a validated, normalized schedule.Frequency.

JSON SCHEMA (canonical form, as written by MarshalFrequency):
  {"type": "weekly", "interval": 1, "weekdays": ["monday", "friday"]}
  {"type": "monthly", "interval": 1, "day_of_month": 31}
  {"type": "monthly", "interval": 2, "nth_occurrence": "last", "weekday": "friday"}
  {"type": "daily", "interval": 3, "run_hour": 8, "skip_non_working_days": true}

ALSO ACCEPTED ON INPUT:
  type:           "diario", "semanal", "mensual", "day", "week", "month"
  interval:       number or numeric string; absent means 1
  weekdays:       JSON array of names or numbers (0=monday .. 6=sunday),
                  a JSON-encoded array inside a string ("[\"lunes\"]"),
                  or a comma-separated string ("lunes, miércoles,viernes")
  weekday names:  English or Spanish, full or three-letter, any case,
                  accents optional ("miercoles" == "miércoles")
  nth_occurrence: 1..5, "-1", "last", "ultimo", "último"

SEE ALSO:
  - schedule/types.go: Frequency and its validation
  - store/sqlite:      reads the frequency_json column through ParseFrequency
  - api/dto.go:        request bodies embed FrequencyJSON
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/warp/maintenance-engine/schedule"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FrequencyJSON is the JSON representation of a frequency descriptor.
type FrequencyJSON struct {
	Type               string          `json:"type"`
	Interval           *FlexInt        `json:"interval,omitempty"`
	Weekdays           json.RawMessage `json:"weekdays,omitempty"`
	DayOfMonth         FlexInt         `json:"day_of_month,omitempty"`
	NthOccurrence      json.RawMessage `json:"nth_occurrence,omitempty"`
	Weekday            json.RawMessage `json:"weekday,omitempty"`
	RunHour            *FlexInt        `json:"run_hour,omitempty"`
	SkipNonWorkingDays bool            `json:"skip_non_working_days,omitempty"`
}

// FlexInt decodes from a JSON number or a numeric string.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*n = FlexInt(v)
	return nil
}

// =============================================================================
// PARSING
// =============================================================================

// ParseFrequency decodes and validates a JSON frequency.
func ParseFrequency(data []byte) (schedule.Frequency, error) {
	var fj FrequencyJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return schedule.Frequency{}, fmt.Errorf("failed to parse frequency JSON: %w", err)
	}
	return fj.ToFrequency()
}

// ToFrequency converts to a validated, normalized schedule.Frequency.
func (fj FrequencyJSON) ToFrequency() (schedule.Frequency, error) {
	kind, err := parseKind(fj.Type)
	if err != nil {
		return schedule.Frequency{}, err
	}

	f := schedule.Frequency{
		Kind:               kind,
		Interval:           1,
		DayOfMonth:         int(fj.DayOfMonth),
		SkipNonWorkingDays: fj.SkipNonWorkingDays,
	}
	if fj.Interval != nil {
		f.Interval = int(*fj.Interval)
	}
	if fj.RunHour != nil {
		h := int(*fj.RunHour)
		f.RunHour = &h
	}

	if kind == schedule.KindWeekly {
		if f.Weekdays, err = ParseWeekdays(fj.Weekdays); err != nil {
			return schedule.Frequency{}, err
		}
	}

	if kind == schedule.KindMonthly && !isEmptyJSON(fj.NthOccurrence) {
		if f.Nth, err = parseNth(fj.NthOccurrence); err != nil {
			return schedule.Frequency{}, err
		}
		if isEmptyJSON(fj.Weekday) {
			return schedule.Frequency{}, fmt.Errorf("nth_occurrence requires weekday")
		}
		days, err := ParseWeekdays(fj.Weekday)
		if err != nil {
			return schedule.Frequency{}, err
		}
		if len(days) != 1 {
			return schedule.Frequency{}, fmt.Errorf("weekday must name exactly one day")
		}
		f.NthWeekday = days[0]
	}

	if err := f.Validate(); err != nil {
		return schedule.Frequency{}, err
	}
	return f.Normalize(), nil
}

func parseKind(s string) (schedule.Kind, error) {
	switch fold(s) {
	case "daily", "day", "diario", "diaria":
		return schedule.KindDaily, nil
	case "weekly", "week", "semanal":
		return schedule.KindWeekly, nil
	case "monthly", "month", "mensual":
		return schedule.KindMonthly, nil
	default:
		return "", fmt.Errorf("unknown frequency type: %q: %w", s, schedule.ErrUnknownKind)
	}
}

// ParseWeekdays accepts every weekday-list encoding described in the package
// doc. An empty or null value yields an empty list.
func ParseWeekdays(raw json.RawMessage) ([]schedule.Weekday, error) {
	raw = bytes.TrimSpace(raw)
	if isEmptyJSON(raw) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var items []any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("invalid weekdays: %w", err)
		}
		out := make([]schedule.Weekday, 0, len(items))
		for _, item := range items {
			wd, err := weekdayFromAny(item)
			if err != nil {
				return nil, err
			}
			out = append(out, wd)
		}
		return out, nil

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid weekdays: %w", err)
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") {
			return ParseWeekdays(json.RawMessage(s))
		}
		var out []schedule.Weekday
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
			if strings.TrimSpace(part) == "" {
				continue
			}
			wd, err := ParseWeekday(part)
			if err != nil {
				return nil, err
			}
			out = append(out, wd)
		}
		return out, nil

	default:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("invalid weekdays: %s", raw)
		}
		wd := schedule.Weekday(n)
		if !wd.Valid() {
			return nil, fmt.Errorf("weekday %d: %w", n, schedule.ErrInvalidWeekday)
		}
		return []schedule.Weekday{wd}, nil
	}
}

func weekdayFromAny(v any) (schedule.Weekday, error) {
	switch x := v.(type) {
	case string:
		return ParseWeekday(x)
	case float64:
		wd := schedule.Weekday(int(x))
		if float64(int(x)) != x || !wd.Valid() {
			return 0, fmt.Errorf("weekday %v: %w", x, schedule.ErrInvalidWeekday)
		}
		return wd, nil
	default:
		return 0, fmt.Errorf("weekday %v: %w", v, schedule.ErrInvalidWeekday)
	}
}

var weekdayNames = map[string]schedule.Weekday{
	"monday": schedule.Monday, "mon": schedule.Monday, "lunes": schedule.Monday, "lun": schedule.Monday,
	"tuesday": schedule.Tuesday, "tue": schedule.Tuesday, "martes": schedule.Tuesday, "mar": schedule.Tuesday,
	"wednesday": schedule.Wednesday, "wed": schedule.Wednesday, "miercoles": schedule.Wednesday, "mie": schedule.Wednesday,
	"thursday": schedule.Thursday, "thu": schedule.Thursday, "jueves": schedule.Thursday, "jue": schedule.Thursday,
	"friday": schedule.Friday, "fri": schedule.Friday, "viernes": schedule.Friday, "vie": schedule.Friday,
	"saturday": schedule.Saturday, "sat": schedule.Saturday, "sabado": schedule.Saturday, "sab": schedule.Saturday,
	"sunday": schedule.Sunday, "sun": schedule.Sunday, "domingo": schedule.Sunday, "dom": schedule.Sunday,
}

// ParseWeekday parses one weekday name or number (0=monday .. 6=sunday).
func ParseWeekday(s string) (schedule.Weekday, error) {
	key := fold(s)
	if wd, ok := weekdayNames[key]; ok {
		return wd, nil
	}
	if n, err := strconv.Atoi(key); err == nil && schedule.Weekday(n).Valid() {
		return schedule.Weekday(n), nil
	}
	return 0, fmt.Errorf("weekday %q: %w", s, schedule.ErrInvalidWeekday)
}

func parseNth(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("invalid nth_occurrence: %w", err)
	}
	switch x := v.(type) {
	case float64:
		if float64(int(x)) != x {
			return 0, fmt.Errorf("nth_occurrence %v: %w", x, schedule.ErrInvalidNth)
		}
		return int(x), nil
	case string:
		switch key := fold(x); key {
		case "last", "ultimo", "ultima":
			return schedule.LastOccurrence, nil
		default:
			n, err := strconv.Atoi(key)
			if err != nil {
				return 0, fmt.Errorf("nth_occurrence %q: %w", x, schedule.ErrInvalidNth)
			}
			return n, nil
		}
	default:
		return 0, fmt.Errorf("nth_occurrence %v: %w", v, schedule.ErrInvalidNth)
	}
}

// fold lowercases, trims and strips diacritics.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "" || s == "null" || s == `""`
}

// =============================================================================
// ENCODING
// =============================================================================

// ToJSON converts a Frequency to its canonical JSON form.
func ToJSON(f schedule.Frequency) FrequencyJSON {
	interval := FlexInt(f.Interval)
	fj := FrequencyJSON{
		Type:               string(f.Kind),
		Interval:           &interval,
		SkipNonWorkingDays: f.SkipNonWorkingDays,
	}
	if f.RunHour != nil {
		h := FlexInt(*f.RunHour)
		fj.RunHour = &h
	}
	switch f.Kind {
	case schedule.KindWeekly:
		names := make([]string, len(f.Weekdays))
		for i, d := range f.Weekdays {
			names[i] = d.String()
		}
		fj.Weekdays, _ = json.Marshal(names)
	case schedule.KindMonthly:
		if f.UsesNth() {
			if f.Nth == schedule.LastOccurrence {
				fj.NthOccurrence = json.RawMessage(`"last"`)
			} else {
				fj.NthOccurrence = json.RawMessage(strconv.Itoa(f.Nth))
			}
			fj.Weekday, _ = json.Marshal(f.NthWeekday.String())
		} else {
			fj.DayOfMonth = FlexInt(f.DayOfMonth)
		}
	}
	return fj
}

// MarshalFrequency encodes f in canonical form.
func MarshalFrequency(f schedule.Frequency) ([]byte, error) {
	return json.Marshal(ToJSON(f))
}
