package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestForecasts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.SaveForecast(ctx, &Forecast{
		MarketID:       "m1",
		MarketQuestion: "Will it rain tomorrow?",
		Outcome:        "YES",
		Probability:    0.62,
		Confidence:     0.8,
		Reasoning:      "forecast models agree",
		EvidenceFor:    []string{"low pressure system"},
		KeyFactors:     []string{"humidity"},
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = s.SaveForecast(ctx, &Forecast{
		MarketID:       "m2",
		MarketQuestion: "Other question",
		Outcome:        "NO",
		Probability:    0.3,
		Confidence:     0.5,
	})
	require.NoError(t, err)

	t.Run("by market", func(t *testing.T) {
		forecasts, err := s.ForecastsByMarket(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, forecasts, 1)
		assert.Equal(t, 0.62, forecasts[0].Probability)
		assert.Equal(t, []string{"low pressure system"}, forecasts[0].EvidenceFor)
		assert.Nil(t, forecasts[0].EvidenceAgainst)
	})

	t.Run("recent", func(t *testing.T) {
		forecasts, err := s.RecentForecasts(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, forecasts, 2)
	})
}

func TestTrades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.SaveTrade(ctx, &Trade{
		MarketID:            "m1",
		MarketQuestion:      "Will X happen?",
		Outcome:             "YES",
		Side:                "BUY",
		Size:                0.10,
		Price:               0.45,
		ForecastProbability: 0.62,
		Edge:                0.17,
	})
	require.NoError(t, err)

	t.Run("defaults to pending", func(t *testing.T) {
		trades, err := s.RecentTrades(ctx, 1)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, "pending", trades[0].Status)
		assert.Nil(t, trades[0].ExecutedAt)
	})

	t.Run("update to executed", func(t *testing.T) {
		require.NoError(t, s.UpdateTradeStatus(ctx, id, "executed", "", "0xabc"))

		trades, err := s.RecentTrades(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "executed", trades[0].Status)
		assert.Equal(t, "0xabc", trades[0].TransactionHash)
		require.NotNil(t, trades[0].ExecutedAt)
		assert.WithinDuration(t, time.Now(), *trades[0].ExecutedAt, 5*time.Second)
	})

	t.Run("update to failed records error", func(t *testing.T) {
		failedID, err := s.SaveTrade(ctx, &Trade{
			MarketID: "m2", MarketQuestion: "q", Outcome: "NO",
			Side: "SELL", Size: 0.05, ForecastProbability: 0.4,
		})
		require.NoError(t, err)

		require.NoError(t, s.UpdateTradeStatus(ctx, failedID, "failed", "insufficient balance", ""))

		trades, err := s.RecentTrades(ctx, 10)
		require.NoError(t, err)
		var failed *Trade
		for _, trade := range trades {
			if trade.ID == failedID {
				failed = trade
			}
		}
		require.NotNil(t, failed)
		assert.Equal(t, "insufficient balance", failed.ErrorMessage)
	})

	t.Run("unknown trade id", func(t *testing.T) {
		err := s.UpdateTradeStatus(ctx, 9999, "executed", "", "")
		assert.Error(t, err)
	})
}

func TestInsights(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.SaveInsight(ctx, "m1", "volume spiked after the debate", 0.7)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = s.SaveInsight(ctx, "m1", "polls tightening", 0.6)
	require.NoError(t, err)

	insights, err := s.InsightsByMarket(ctx, "m1", 10)
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "polls tightening", insights[0].Content)

	other, err := s.InsightsByMarket(ctx, "m2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPortfolioSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("empty store returns nil", func(t *testing.T) {
		snap, err := s.LatestPortfolioSnapshot(ctx)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("latest wins", func(t *testing.T) {
		_, err := s.SavePortfolioSnapshot(ctx, &PortfolioSnapshot{Balance: 100, TotalValue: 120})
		require.NoError(t, err)
		_, err = s.SavePortfolioSnapshot(ctx, &PortfolioSnapshot{Balance: 90, TotalValue: 130, OpenPositions: 2})
		require.NoError(t, err)

		snap, err := s.LatestPortfolioSnapshot(ctx)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, 130.0, snap.TotalValue)
		assert.Equal(t, 2, snap.OpenPositions)
	})
}
