package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// Window returns the [end-lookback, end] range. A non-positive lookback
// defaults to one hour.
func Window(end time.Time, lookback time.Duration) (time.Time, time.Time) {
	if lookback <= 0 {
		lookback = time.Hour
	}
	return end.Add(-lookback), end
}
