package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

func testCandle(ts time.Time, symbol string, tf domain.Timeframe, close float64) *domain.Candle {
	c := decimal.NewFromFloat(close)
	return &domain.Candle{
		Time:      ts.UTC(),
		Symbol:    symbol,
		Timeframe: tf,
		Open:      c.Sub(decimal.NewFromInt(1)),
		High:      c.Add(decimal.NewFromInt(2)),
		Low:       c.Sub(decimal.NewFromInt(2)),
		Close:     c,
		Volume:    decimal.NewFromInt(1000),
	}
}

func TestCandleStore_UpsertBatch_Idempotent(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	batch := []*domain.Candle{
		testCandle(base, "BTCUSDT", domain.Timeframe1h, 100),
		testCandle(base.Add(time.Hour), "BTCUSDT", domain.Timeframe1h, 101),
	}

	result, err := store.UpsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Updated)

	result, err = store.UpsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 2, result.Updated)

	got, err := store.GetRange(ctx, "BTCUSDT", domain.Timeframe1h, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCandleStore_UniquenessAcrossTimeframes(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	ts := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err := store.UpsertBatch(ctx, []*domain.Candle{
		testCandle(ts, "BTCUSDT", domain.Timeframe1h, 100),
		testCandle(ts, "BTCUSDT", domain.Timeframe1d, 100),
		testCandle(ts, "ETHUSDT", domain.Timeframe1h, 200),
	})
	require.NoError(t, err)

	hourly, err := store.GetRange(ctx, "BTCUSDT", domain.Timeframe1h, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, hourly, 1)

	daily, err := store.GetRange(ctx, "BTCUSDT", domain.Timeframe1d, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, daily, 1)
}

func TestCandleStore_GetLatest_Order(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	// Insert out of order.
	for _, i := range []int{3, 0, 4, 1, 2} {
		_, err := store.UpsertBatch(ctx, []*domain.Candle{
			testCandle(base.Add(time.Duration(i)*time.Hour), "BTCUSDT", domain.Timeframe1h, 100+float64(i)),
		})
		require.NoError(t, err)
	}

	got, err := store.GetLatest(ctx, "BTCUSDT", domain.Timeframe1h, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Time.Equal(base.Add(2*time.Hour)))
	assert.True(t, got[1].Time.Equal(base.Add(3*time.Hour)))
	assert.True(t, got[2].Time.Equal(base.Add(4*time.Hour)))
}

func TestCandleStore_DeleteBefore(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	var batch []*domain.Candle
	for i := 0; i < 5; i++ {
		batch = append(batch, testCandle(base.Add(time.Duration(i)*time.Hour), "BTCUSDT", domain.Timeframe1h, 100))
	}
	_, err := store.UpsertBatch(ctx, batch)
	require.NoError(t, err)

	removed, err := store.DeleteBefore(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	got, err := store.GetRange(ctx, "BTCUSDT", domain.Timeframe1h, base, base.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.False(t, c.Time.Before(base.Add(3*time.Hour)))
	}
}

func TestCandleStore_LastTime(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	_, err := store.LastTime(ctx, "BTCUSDT", domain.Timeframe1h)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err = store.UpsertBatch(ctx, []*domain.Candle{
		testCandle(base, "BTCUSDT", domain.Timeframe1h, 100),
		testCandle(base.Add(time.Hour), "BTCUSDT", domain.Timeframe1h, 101),
	})
	require.NoError(t, err)

	last, err := store.LastTime(ctx, "BTCUSDT", domain.Timeframe1h)
	require.NoError(t, err)
	assert.True(t, last.Equal(base.Add(time.Hour)))
}

func TestCandleStore_CopiesOnWriteAndRead(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	ts := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	original := testCandle(ts, "BTCUSDT", domain.Timeframe1h, 100)
	_, err := store.UpsertBatch(ctx, []*domain.Candle{original})
	require.NoError(t, err)

	// Mutating the caller's candle must not reach the store.
	original.Close = decimal.NewFromInt(999)

	got, err := store.GetRange(ctx, "BTCUSDT", domain.Timeframe1h, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(100)))
}
