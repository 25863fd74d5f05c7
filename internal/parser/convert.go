package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02.01.2006",
	"02.01.2006 15:04",
	"01/02/2006",
}

// maxExactFloatInt is the largest integer a float64 holds without rounding.
const maxExactFloatInt = 1 << 53

type fieldError struct {
	field   string
	message string
}

func (e *fieldError) Error() string { return e.field + ": " + e.message }

func invalid(field, format string, args ...any) *fieldError {
	return &fieldError{field: field, message: fmt.Sprintf(format, args...)}
}

func parseID(field, raw string) (int64, error) {
	if raw == "" {
		return 0, invalid(field, "is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Spreadsheets often export integer ids as "12.0".
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > maxExactFloatInt {
			return 0, invalid(field, "must be an integer, got %q", raw)
		}
		id = int64(f)
	}
	if id <= 0 {
		return 0, invalid(field, "must be positive, got %q", raw)
	}
	return id, nil
}

func parseOptionalFloat(field, raw string) (*float64, error) {
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return nil, invalid(field, "must be a number, got %q", raw)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil, invalid(field, "must be a finite number, got %q", raw)
	}
	return &v, nil
}

func parseOptionalYear(field, raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return nil, invalid(field, "must be a year, got %q", raw)
	}
	year := int(f)
	if year < 1800 || year > 2200 {
		return nil, invalid(field, "year %d out of range", year)
	}
	return &year, nil
}

func parseBool(field, raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "", "false", "0", "no", "n", "нет", "0.0":
		return false, nil
	case "true", "1", "yes", "y", "да", "1.0":
		return true, nil
	}
	return false, invalid(field, "must be a boolean, got %q", raw)
}

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, invalid(field, "is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid(field, "cannot parse date %q", raw)
}

func optionalString(raw string) *string {
	if raw == "" {
		return nil
	}
	return &raw
}
