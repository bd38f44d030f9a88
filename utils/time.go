package utils

import "time"

// ParseTime returns time.Time from text represented time
func ParseTime(t string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, t)
}

// MakeTimeToString returns text represented time from time.Time, keeping sub-second precision
func MakeTimeToString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
