package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
	"market-data-lab/internal/storage/memory"
)

func hourlyCandle(i int, close float64) *domain.Candle {
	c := decimal.NewFromFloat(close)
	return &domain.Candle{
		Time:      baseTime.Add(time.Duration(i) * time.Hour),
		Symbol:    "BTCUSDT",
		Timeframe: domain.Timeframe1h,
		Open:      decimal.NewFromFloat(close - 1),
		High:      decimal.NewFromFloat(close + 2),
		Low:       decimal.NewFromFloat(close - 2),
		Close:     c,
		Volume:    decimal.NewFromInt(10),
	}
}

func TestAggregate(t *testing.T) {
	// Ten hourly candles starting at midnight fold into three 4h buckets.
	var candles []*domain.Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, hourlyCandle(i, 100+float64(i)))
	}

	rollups := Aggregate(candles, 4*time.Hour)
	require.Len(t, rollups, 3)

	first := rollups[0]
	assert.True(t, first.BucketStart.Equal(baseTime))
	assert.True(t, first.Open.Equal(decimal.NewFromInt(99)), "open of the first candle")
	assert.True(t, first.Close.Equal(decimal.NewFromInt(103)), "close of the last candle")
	assert.True(t, first.High.Equal(decimal.NewFromInt(105)), "max high in bucket")
	assert.True(t, first.Low.Equal(decimal.NewFromInt(98)), "min low in bucket")
	assert.True(t, first.Volume.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, 4, first.SourceRows)

	last := rollups[2]
	assert.True(t, last.BucketStart.Equal(baseTime.Add(8*time.Hour)))
	assert.Equal(t, 2, last.SourceRows)
	assert.True(t, last.Volume.Equal(decimal.NewFromInt(20)))
}

func TestAggregate_Empty(t *testing.T) {
	assert.Nil(t, Aggregate(nil, 4*time.Hour))
}

func TestRefresher_Idempotent(t *testing.T) {
	candles := memory.NewCandleStore()
	rollups := memory.NewRollupStore()
	ctx := context.Background()

	var batch []*domain.Candle
	for i := 0; i < 30; i++ {
		batch = append(batch, hourlyCandle(i, 100))
	}
	_, err := candles.UpsertBatch(ctx, batch)
	require.NoError(t, err)

	r := NewRefresher(candles, rollups, nil)

	n, err := r.Refresh(ctx, "BTCUSDT", domain.Timeframe1h, 24*time.Hour, baseTime, baseTime.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := rollups.GetRange(ctx, "BTCUSDT", domain.Timeframe1h, baseTime, baseTime.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 24, first[0].SourceRows)
	assert.Equal(t, 6, first[1].SourceRows)

	// A second run converges on the same rows.
	_, err = r.Refresh(ctx, "BTCUSDT", domain.Timeframe1h, 24*time.Hour, baseTime, baseTime.Add(30*time.Hour))
	require.NoError(t, err)

	second, err := rollups.GetRange(ctx, "BTCUSDT", domain.Timeframe1h, baseTime, baseTime.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRefresher_PicksUpRevisions(t *testing.T) {
	candles := memory.NewCandleStore()
	rollups := memory.NewRollupStore()
	ctx := context.Background()

	var batch []*domain.Candle
	for i := 0; i < 24; i++ {
		batch = append(batch, hourlyCandle(i, 100))
	}
	_, err := candles.UpsertBatch(ctx, batch)
	require.NoError(t, err)

	r := NewRefresher(candles, rollups, nil)
	day := 24 * time.Hour

	_, err = r.Refresh(ctx, "BTCUSDT", domain.Timeframe1h, day, baseTime, baseTime.Add(day))
	require.NoError(t, err)

	// Revise the final candle and refresh again.
	_, err = candles.UpsertBatch(ctx, []*domain.Candle{hourlyCandle(23, 200)})
	require.NoError(t, err)
	_, err = r.Refresh(ctx, "BTCUSDT", domain.Timeframe1h, day, baseTime, baseTime.Add(day))
	require.NoError(t, err)

	got, err := rollups.GetRange(ctx, "BTCUSDT", domain.Timeframe1h, baseTime, baseTime.Add(day))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(200)))
	assert.True(t, got[0].High.Equal(decimal.NewFromInt(202)))
}

func TestRefresher_RejectsBucketNotCoarser(t *testing.T) {
	r := NewRefresher(memory.NewCandleStore(), memory.NewRollupStore(), nil)

	_, err := r.Refresh(context.Background(), "BTCUSDT", domain.Timeframe1h, time.Hour, baseTime, baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
