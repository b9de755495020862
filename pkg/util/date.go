package util

import (
	"strconv"
	"strings"
	"time"
)

// Unix values above this are read as milliseconds.
const msThreshold = 1e11

// ParseTime reads RFC3339 (with or without fractional seconds) or a unix
// timestamp in seconds or milliseconds. Results are UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	return unix(n)
}

// TimeOf accepts the shapes a JSON timestamp field decodes to: a string or a number.
func TimeOf(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		return ParseTime(t)
	case float64:
		return unix(t)
	default:
		return time.Time{}, false
	}
}

func unix(n float64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n >= msThreshold {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Unix(int64(n), 0).UTC(), true
}

// IntervalDuration maps a bar interval such as "5m", "1h" or "1d" to its length.
// Anything unreadable is one minute.
func IntervalDuration(iv string) time.Duration {
	if days, ok := strings.CutSuffix(iv, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
		return time.Minute
	}
	d, err := time.ParseDuration(iv)
	if err != nil || d < time.Minute {
		return time.Minute
	}
	return d
}
