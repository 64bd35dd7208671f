package storage

import (
	"context"
	"time"

	"market-data-lab/internal/domain"
)

// UpsertResult reports how an upsert batch was applied.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// CandleStore provides access to OHLCV candle storage.
type CandleStore interface {
	// UpsertBatch writes candles keyed by (time, symbol, timeframe).
	// Existing rows are overwritten; re-applying the same batch is a no-op.
	// Returns ErrPartitionMissing if a candle falls outside every partition.
	UpsertBatch(ctx context.Context, candles []*domain.Candle) (UpsertResult, error)

	// GetRange retrieves candles for a pair within [from, to), ordered by
	// time ASC.
	GetRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error)

	// GetLatest retrieves the most recent limit candles for a pair,
	// ordered by time ASC. Returns fewer if the series is shorter.
	GetLatest(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]*domain.Candle, error)

	// LastTime returns the time of the newest candle for a pair.
	// Returns ErrNotFound if the series is empty.
	LastTime(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, error)

	// DeleteBefore removes candles older than cutoff across all pairs.
	// Returns the number of rows removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CursorStore provides access to ingestion cursor storage.
type CursorStore interface {
	// Get retrieves the cursor for a pair. Returns ErrNotFound if the
	// pair has never been ingested.
	Get(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.IngestionCursor, error)

	// Put creates or advances a cursor. A Put that moves the cursor
	// backwards is applied as-is; callers own the overlap policy.
	Put(ctx context.Context, c *domain.IngestionCursor) error
}

// AnnotationStore provides access to chart annotation storage.
type AnnotationStore interface {
	// Insert adds a new annotation. The ID must be unique; returns
	// ErrDuplicateKey otherwise.
	Insert(ctx context.Context, a *domain.Annotation) error

	// GetBySymbol retrieves up to limit annotations for a symbol,
	// newest first.
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Annotation, error)

	// Delete removes an annotation by ID. Returns ErrNotFound if it
	// does not exist.
	Delete(ctx context.Context, id string) error
}

// RollupStore provides access to pre-aggregated rollup storage.
type RollupStore interface {
	// ReplaceRange rebuilds rollups for a pair within [from, to).
	// Stale buckets in the range are superseded by the new rows.
	ReplaceRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time, rollups []*domain.RollupCandle) error

	// GetRange retrieves rollups for a pair within [from, to), ordered
	// by bucket start ASC.
	GetRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]*domain.RollupCandle, error)
}
