// Package cronexpr evaluates standard 5-field cron expressions
// (minute hour day-of-month month day-of-week) against wall-clock time.
package cronexpr

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/semmidev/backupd/internal/domain"
)

// maxLookback bounds the search for a previous match. It mirrors the horizon
// robfig/cron uses when searching forward.
const maxLookback = 5 * 366 * 24 * time.Hour

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Schedule struct {
	expr  string
	sched cron.Schedule
}

// Parse returns a *domain.ScheduleParseError for malformed expressions.
func Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return Schedule{}, &domain.ScheduleParseError{Expr: expr, Err: errTimezonePrefix}
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, &domain.ScheduleParseError{Expr: expr, Err: err}
	}
	return Schedule{expr: expr, sched: sched}, nil
}

func (s Schedule) String() string {
	return s.expr
}

// Next returns the first matching instant strictly after t, in t's location.
// The zero time means no match within five years.
func (s Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Prev returns the most recent matching instant at or before t.
func (s Schedule) Prev(t time.Time) (time.Time, bool) {
	for span := time.Hour; ; span *= 2 {
		if span > maxLookback {
			span = maxLookback
		}

		var last time.Time
		n := s.sched.Next(t.Add(-span).Add(-time.Second))
		for !n.IsZero() && !n.After(t) {
			last = n
			n = s.sched.Next(n)
		}
		if !last.IsZero() {
			return last, true
		}
		if span == maxLookback {
			return time.Time{}, false
		}
	}
}

// NextN lists up to n upcoming instants after t. A positive within stops the
// list at the first instant further than within from t.
func (s Schedule) NextN(t time.Time, n int, within time.Duration) []time.Time {
	runs := make([]time.Time, 0, n)
	cur := t
	for i := 0; i < n; i++ {
		cur = s.sched.Next(cur)
		if cur.IsZero() {
			break
		}
		if within > 0 && cur.Sub(t) > within {
			break
		}
		runs = append(runs, cur)
	}
	return runs
}

type timezonePrefixError struct{}

func (timezonePrefixError) Error() string {
	return "timezone prefixes are not supported, configure app.timezone instead"
}

var errTimezonePrefix error = timezonePrefixError{}
