package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateNextRun(t *testing.T) {
	t.Run("at schedule", func(t *testing.T) {
		target := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		next, err := CalculateNextRun(Schedule{
			Kind: ScheduleKindAt,
			At:   target.Format(time.RFC3339),
		})
		require.NoError(t, err)
		assert.Equal(t, target.UnixMilli(), next)
	})

	t.Run("at schedule requires timestamp", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt})
		assert.Error(t, err)
	})

	t.Run("at schedule rejects garbage", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt, At: "tomorrow-ish"})
		assert.Error(t, err)
	})

	t.Run("every schedule without anchor", func(t *testing.T) {
		before := time.Now().UnixMilli()
		next, err := CalculateNextRun(Schedule{Kind: ScheduleKindEvery, EveryMs: 60000})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, next, before+60000)
		assert.LessOrEqual(t, next, time.Now().UnixMilli()+60000)
	})

	t.Run("every schedule with past anchor aligns to grid", func(t *testing.T) {
		anchor := time.Now().UnixMilli() - 150000 // 2.5 periods ago at 60s
		next, err := CalculateNextRun(Schedule{
			Kind:     ScheduleKindEvery,
			EveryMs:  60000,
			AnchorMs: Int64Ptr(anchor),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), (next-anchor)%60000)
		assert.Greater(t, next, time.Now().UnixMilli())
	})

	t.Run("every schedule with future anchor uses anchor", func(t *testing.T) {
		anchor := time.Now().UnixMilli() + 120000
		next, err := CalculateNextRun(Schedule{
			Kind:     ScheduleKindEvery,
			EveryMs:  60000,
			AnchorMs: Int64Ptr(anchor),
		})
		require.NoError(t, err)
		assert.Equal(t, anchor, next)
	})

	t.Run("every schedule requires positive interval", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindEvery})
		assert.Error(t, err)
	})

	t.Run("cron schedule", func(t *testing.T) {
		next, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *"})
		require.NoError(t, err)

		nextTime := time.UnixMilli(next)
		assert.True(t, nextTime.After(time.Now()))
		assert.Equal(t, 9, nextTime.Hour())
		assert.Equal(t, 0, nextTime.Minute())
	})

	t.Run("cron schedule with timezone", func(t *testing.T) {
		next, err := CalculateNextRun(Schedule{
			Kind: ScheduleKindCron,
			Expr: "30 14 * * *",
			TZ:   "America/New_York",
		})
		require.NoError(t, err)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		nextTime := time.UnixMilli(next).In(loc)
		assert.Equal(t, 14, nextTime.Hour())
		assert.Equal(t, 30, nextTime.Minute())
	})

	t.Run("cron schedule rejects bad expression", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron, Expr: "not a cron"})
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: "hourly"})
		assert.Error(t, err)
	})
}
