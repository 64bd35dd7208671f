package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// Refresher rebuilds coarse rollup buckets from fine-grained candles.
// Rebuilds are idempotent: the rollup store replaces whole ranges, so
// re-running a window converges on the same rows.
type Refresher struct {
	candles storage.CandleStore
	rollups storage.RollupStore
	logger  *zap.Logger
}

// NewRefresher creates a new rollup refresher. A nil logger disables
// logging.
func NewRefresher(candles storage.CandleStore, rollups storage.RollupStore, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{candles: candles, rollups: rollups, logger: logger}
}

// Refresh recomputes rollup buckets of the given size for a pair over
// [from, to). The range is widened to whole buckets so edge buckets are
// rebuilt from all of their source candles.
func (r *Refresher) Refresh(ctx context.Context, symbol string, tf domain.Timeframe, bucket time.Duration, from, to time.Time) (int, error) {
	if bucket <= tf.Duration() {
		return 0, fmt.Errorf("bucket %s not coarser than timeframe %s: %w", bucket, tf, storage.ErrInvalidInput)
	}

	from = domain.BucketStart(from, bucket)
	to = domain.BucketStart(to.Add(bucket-time.Nanosecond), bucket)
	if !from.Before(to) {
		return 0, nil
	}

	candles, err := r.candles.GetRange(ctx, symbol, tf, from, to)
	if err != nil {
		return 0, fmt.Errorf("read source candles: %w", err)
	}

	rollups := Aggregate(candles, bucket)
	if err := r.rollups.ReplaceRange(ctx, symbol, tf, from, to, rollups); err != nil {
		return 0, fmt.Errorf("replace rollup range: %w", err)
	}

	r.logger.Debug("rollups refreshed",
		zap.String("symbol", symbol), zap.String("timeframe", string(tf)),
		zap.Duration("bucket", bucket), zap.Int("buckets", len(rollups)))

	return len(rollups), nil
}

// Aggregate folds candles into buckets of the given size. Input must be
// sorted by time ASC; output buckets are emitted in the same order.
// Open is the first candle's open, close the last candle's close, high
// and low the extremes, volume the sum.
func Aggregate(candles []*domain.Candle, bucket time.Duration) []*domain.RollupCandle {
	var rollups []*domain.RollupCandle
	var current *domain.RollupCandle

	for _, c := range candles {
		start := domain.BucketStart(c.Time, bucket)

		if current == nil || !current.BucketStart.Equal(start) {
			current = &domain.RollupCandle{
				BucketStart: start,
				Symbol:      c.Symbol,
				Timeframe:   c.Timeframe,
				Open:        c.Open,
				High:        c.High,
				Low:         c.Low,
				Close:       c.Close,
				Volume:      c.Volume,
				SourceRows:  1,
			}
			rollups = append(rollups, current)
			continue
		}

		if c.High.GreaterThan(current.High) {
			current.High = c.High
		}
		if c.Low.LessThan(current.Low) {
			current.Low = c.Low
		}
		current.Close = c.Close
		current.Volume = current.Volume.Add(c.Volume)
		current.SourceRows++
	}

	return rollups
}
