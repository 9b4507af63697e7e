// Package interval maps bar interval names to durations.
package interval

import (
	"errors"
	"time"
)

// Parse parses an interval string (e.g., "1s", "1m", "5m") to time.Duration
func Parse(interval string) (time.Duration, error) {
	d := Duration(interval)
	if d == 0 {
		return 0, errors.New("unsupported interval")
	}
	return d, nil
}

// Duration returns the duration for a given interval, 0 if unsupported
func Duration(interval string) time.Duration {
	switch interval {
	case "1s":
		return time.Second
	case "5s":
		return 5 * time.Second
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	default:
		return 0
	}
}

// Supported returns all supported intervals, smallest first
func Supported() []string {
	return []string{"1s", "5s", "1m", "5m", "15m", "1h"}
}

// IsValid checks if an interval is supported
func IsValid(interval string) bool {
	return Duration(interval) > 0
}

// BucketStart truncates ts to the start of its interval bucket.
func BucketStart(ts time.Time, d time.Duration) time.Time {
	return ts.Truncate(d)
}
