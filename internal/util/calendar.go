package util

import (
	"fmt"
	"path"
	"time"
)

// DateLayout is the partition date format, e.g. 2024-06-17.
const DateLayout = "2006-01-02"

// DateStamp formats t as a UTC partition date.
func DateStamp(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD partition date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// TruncateDay returns UTC midnight of the day containing t.
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Yesterday returns UTC midnight of the day before now.
func Yesterday(now time.Time) time.Time {
	return TruncateDay(now).AddDate(0, 0, -1)
}

// ResolveDate returns the parsed date, or yesterday relative to now when s is
// empty.
func ResolveDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return Yesterday(now), nil
	}
	return ParseDate(s)
}

// PartitionPrefix returns the storage prefix grouping objects for a date:
// <table>/<YYYY-MM-DD>/. An empty table yields <YYYY-MM-DD>/.
func PartitionPrefix(table string, date time.Time) string {
	return path.Join(table, DateStamp(date)) + "/"
}
