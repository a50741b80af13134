package parse

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted from clients, most specific first. Layouts without an
// offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// Timestamp parses a client supplied timestamp. A trailing "Z" and explicit
// offsets are honoured; naive values are taken as UTC.
func Timestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %q", raw)
}

// OptionalTimestamp parses raw when it is non-nil and non-empty.
func OptionalTimestamp(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := Timestamp(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
