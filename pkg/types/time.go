package types

import (
	"fmt"
	"time"
)

// The backend emits ISO-8601 in a few shapes: full timestamps with an offset,
// naive timestamps, and bare dates (receipt periods, reading dates).
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseOptionalTimestamp normalizes an empty or absent value to nil.
// Nullable date fields arrive as either JSON null or an empty string.
func parseOptionalTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseDate keeps only the calendar day, anchored at midnight UTC.
func parseDate(s string) (time.Time, error) {
	t, err := parseTimestamp(s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// optionalString maps the empty string to nil for nullable fields.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
