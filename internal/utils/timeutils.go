package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseUnixNano parses a decimal nanosecond epoch string (Loki stream values).
func ParseUnixNano(value string) (time.Time, int64, error) {
	ns, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse epoch nanoseconds %q: %w", value, err)
	}
	return time.Unix(0, ns).UTC(), ns, nil
}

// OrNow returns t, or the current UTC time when t is zero.
func OrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
