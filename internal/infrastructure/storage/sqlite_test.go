package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/infrastructure/storage"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Fills(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	fills := []*domain.Fill{
		{Symbol: "BTCUSDT", OrderID: "1", Side: domain.SideBuy, Price: decimal.RequireFromString("64250.5"), Size: decimal.RequireFromString("0.0015"), Confidence: domain.FillInferred, FilledAt: t0},
		{Symbol: "BTCUSDT", OrderID: "2", Side: domain.SideSell, Price: decimal.RequireFromString("65214.2575"), Size: decimal.RequireFromString("0.0015"), IsCloseOrder: true, Confidence: domain.FillConfirmed, FilledAt: t0.Add(time.Minute)},
		{Symbol: "ETHUSDT", OrderID: "3", Side: domain.SideSell, Price: decimal.NewFromInt(3100), Size: decimal.RequireFromString("0.02"), Confidence: domain.FillCancelled, FilledAt: t0.Add(2 * time.Minute)},
	}
	for _, f := range fills {
		require.NoError(t, store.SaveFill(ctx, f))
		assert.NotZero(t, f.ID)
	}

	got, err := store.ListFills(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].OrderID, "newest first")
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("65214.2575")))
	assert.True(t, got[0].IsCloseOrder)
	assert.Equal(t, domain.FillConfirmed, got[0].Confidence)
	assert.True(t, got[1].FilledAt.Equal(t0))

	all, err := store.ListFills(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "ETHUSDT", all[0].Symbol)
}

func TestSQLiteStore_EMATrades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	trade := &domain.EMATrade{
		Symbol: "SOLUSDT", Side: domain.SideSell, Size: decimal.RequireFromString("1.5"),
		EntryPrice: decimal.NewFromInt(150), ExitPrice: decimal.RequireFromString("149.1"),
		PnL: decimal.RequireFromString("1.35"), SignalType: "death_cross", ExitReason: "take_profit",
		OpenedAt: t0, ClosedAt: t0.Add(10 * time.Minute),
	}
	require.NoError(t, store.SaveEMATrade(ctx, trade))

	got, err := store.ListEMATrades(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, trade.ID, got[0].ID)
	assert.True(t, got[0].PnL.Equal(trade.PnL))
	assert.Equal(t, "take_profit", got[0].ExitReason)
	assert.True(t, got[0].ClosedAt.Equal(trade.ClosedAt))
}

func TestSQLiteStore_Snapshots(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i, balance := range []string{"1000", "1012.5"} {
		require.NoError(t, store.SaveSnapshot(ctx, &domain.PerformanceSnapshot{
			Mode:        "ema",
			Balance:     decimal.RequireFromString(balance),
			TotalTrades: i + 1,
			TakenAt:     time.Date(2024, 3, 1, 12, i, 0, 0, time.UTC),
		}))
	}

	latest, err = store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.TotalTrades)
	assert.True(t, latest.Balance.Equal(decimal.RequireFromString("1012.5")))
}
