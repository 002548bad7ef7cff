package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// cronField is the set of values one cron field accepts.
type cronField struct {
	any    bool
	values map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.any || f.values[v]
}

// parseCronField parses one field. Supported forms are "*", "*/n", "a",
// "a-b", "a-b/n" and comma-separated lists of those, bounded by [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{any: true}, nil
	}

	f := cronField{values: make(map[int]bool)}
	for _, part := range strings.Split(field, ",") {
		step := 1
		if rng, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step, part = n, rng
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(a)
			to, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			from, to = v, v
		}

		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("%q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

// Schedule is a parsed 5-field cron expression
// (minute hour day-of-month month day-of-week, Sunday = 0).
type Schedule struct {
	expr                                     string
	minute, hour, dayOfMonth, month, weekday cronField
}

// ParseCron parses expr, e.g. "0 6 * * 1" for Mondays at 06:00.
func ParseCron(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("pipeline: cron %q: must have 5 fields, got %d", expr, len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, field := range fields {
		f, err := parseCronField(field, bounds[i][0], bounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("pipeline: cron %q: %s field: %w", expr, names[i], err)
		}
		parsed[i] = f
	}

	return Schedule{
		expr:       expr,
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		weekday:    parsed[4],
	}, nil
}

// String returns the source expression.
func (s Schedule) String() string { return s.expr }

func (s Schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.weekday.matches(int(t.Weekday()))
}

// Next returns the first minute strictly after t that matches. The search
// is bounded to one year, which only fails for impossible dates like Feb 30.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("pipeline: cron %q: no match within a year", s.expr)
}

// runCron calls job at every matching minute until ctx is cancelled. Job
// errors are logged and do not stop the loop.
func runCron(ctx context.Context, sched Schedule, name string, job func(context.Context) error, logger *slog.Logger) error {
	for {
		next, err := sched.Next(time.Now().UTC())
		if err != nil {
			return err
		}

		wait := time.Until(next)
		logger.Info("waiting for next cron trigger",
			slog.String("job", name),
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := job(ctx); err != nil {
				logger.Error("cron job failed",
					slog.String("job", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
