// Package cron parses the cron expressions attached to recurring alarms.
package cron

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Validate reports whether expr is a usable 5-field cron expression.
func Validate(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires after %s", expr, after.Format(time.RFC3339))
	}
	return next, nil
}

// NextUnix is NextRunTime in whole Unix seconds, the unit alarm rows use.
func NextUnix(expr string, after time.Time) (int64, error) {
	next, err := NextRunTime(expr, after)
	if err != nil {
		return 0, err
	}
	return next.Unix(), nil
}
