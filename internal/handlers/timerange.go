package handlers

import (
	"strconv"
	"strings"
	"time"
)

// DefaultRange is used when a range is missing or malformed.
const DefaultRange = 60 * time.Minute

// ParseRange converts "1h", "30m", "7d" or a bare number of minutes into a
// [start, end] window ending at now. Empty, malformed or non-positive values
// fall back to DefaultRange.
func ParseRange(value string, now time.Time) (time.Time, time.Time) {
	end := now.UTC()
	return end.Add(-rangeDuration(value)), end
}

func rangeDuration(value string) time.Duration {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return DefaultRange
	}

	unit := time.Minute
	switch {
	case strings.HasSuffix(value, "h"):
		unit, value = time.Hour, strings.TrimSuffix(value, "h")
	case strings.HasSuffix(value, "m"):
		value = strings.TrimSuffix(value, "m")
	case strings.HasSuffix(value, "d"):
		unit, value = 24*time.Hour, strings.TrimSuffix(value, "d")
	}

	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return DefaultRange
	}
	return time.Duration(n) * unit
}
