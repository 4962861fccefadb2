package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronFields is the classic five-field layout: minute, hour, day of
// month, month, day of week. Seconds are not supported.
var cronFields = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextRun resolves a schedule to the epoch-millisecond
// timestamp of its next firing. One-shot "at" schedules may resolve to
// a timestamp in the past; the runner fires those immediately.
func CalculateNextRun(schedule Schedule) (int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return nextAtRun(schedule)
	case ScheduleKindEvery:
		return nextEveryRun(schedule, time.Now())
	case ScheduleKindCron:
		return nextCronRun(schedule, time.Now())
	default:
		return 0, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

func nextAtRun(schedule Schedule) (int64, error) {
	if schedule.At == "" {
		return 0, fmt.Errorf("'at' schedule requires 'at' field")
	}

	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %w", err)
	}
	return t.UnixMilli(), nil
}

// nextEveryRun picks the next firing of a fixed-interval schedule. An
// anchor pins the interval to a grid (anchor, anchor+every, ...) so
// restarts do not drift the cadence; without one the interval simply
// counts from now.
func nextEveryRun(schedule Schedule, now time.Time) (int64, error) {
	if schedule.EveryMs <= 0 {
		return 0, fmt.Errorf("'every' schedule requires positive 'everyMs' value")
	}

	nowMs := now.UnixMilli()
	if schedule.AnchorMs == nil {
		return nowMs + schedule.EveryMs, nil
	}

	anchor := *schedule.AnchorMs
	if nowMs < anchor {
		return anchor, nil
	}

	// Skip every grid point at or before now.
	periods := (nowMs-anchor)/schedule.EveryMs + 1
	return anchor + periods*schedule.EveryMs, nil
}

func nextCronRun(schedule Schedule, now time.Time) (int64, error) {
	if schedule.Expr == "" {
		return 0, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	spec, err := cronFields.Parse(schedule.Expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return 0, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}
	return spec.Next(now).UnixMilli(), nil
}
