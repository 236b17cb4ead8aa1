// Package schedule runs recurring analyses that have fallen due.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/pagedoctor/internal/report"
)

// ErrUnknownInterval is returned by ParseInterval.
var ErrUnknownInterval = errors.New("unknown interval")

// Interval is how often a schedule repeats.
type Interval string

const (
	Daily   Interval = "daily"
	Weekly  Interval = "weekly"
	Monthly Interval = "monthly"
)

// ParseInterval validates s.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case Daily, Weekly, Monthly:
		return Interval(s), nil
	}
	return "", fmt.Errorf("%w %q (want daily, weekly or monthly)", ErrUnknownInterval, s)
}

// NextRunAt returns the run that follows base. Months are added on the
// calendar: the day of month is clamped to the last day of the target month,
// so Jan 31 is followed by Feb 28 or 29.
func NextRunAt(interval Interval, base time.Time) time.Time {
	switch interval {
	case Weekly:
		return base.AddDate(0, 0, 7)
	case Monthly:
		return addMonth(base)
	default:
		return base.AddDate(0, 0, 1)
	}
}

func addMonth(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// IsOverdue reports whether nextRunAt is at or before now.
func IsOverdue(nextRunAt, now time.Time) bool {
	return !nextRunAt.After(now)
}

// FormatTimestamp renders t in the layout schedules are stored with.
func FormatTimestamp(t time.Time) string {
	return report.FormatTime(t)
}

// ParseTimestamp parses a stored schedule timestamp. Any RFC 3339 value is
// accepted.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// NextAfter advances due by whole intervals until the result is strictly
// after now. Anchoring on due keeps the schedule's time of day; stepping past
// now means a job missed for several periods runs once, not once per period.
func NextAfter(interval Interval, due, now time.Time) time.Time {
	next := NextRunAt(interval, due)
	for !next.After(now) {
		next = NextRunAt(interval, next)
	}
	return next
}
