package sqlite

import (
	"strings"
	"time"
)

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Times are stored as unix nanoseconds so SQL comparisons work; zero
// time maps to 0.
func timeToNS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timePtrToNS(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return timeToNS(*t)
}

func nsToTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

type scanner interface {
	Scan(dest ...any) error
}
