package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

func TestCursorStore_GetPut(t *testing.T) {
	store := NewCursorStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "BTCUSDT", domain.Timeframe1h)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, &domain.IngestionCursor{
		Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h, LastTime: ts,
	}))

	cur, err := store.Get(ctx, "BTCUSDT", domain.Timeframe1h)
	require.NoError(t, err)
	assert.True(t, cur.LastTime.Equal(ts))

	// Put overwrites.
	require.NoError(t, store.Put(ctx, &domain.IngestionCursor{
		Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h, LastTime: ts.Add(time.Hour),
	}))
	cur, err = store.Get(ctx, "BTCUSDT", domain.Timeframe1h)
	require.NoError(t, err)
	assert.True(t, cur.LastTime.Equal(ts.Add(time.Hour)))
}

func TestCursorStore_PerPairIsolation(t *testing.T) {
	store := NewCursorStore()
	ctx := context.Background()

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, &domain.IngestionCursor{
		Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h, LastTime: ts,
	}))

	_, err := store.Get(ctx, "BTCUSDT", domain.Timeframe1d)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(ctx, "ETHUSDT", domain.Timeframe1h)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
