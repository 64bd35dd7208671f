// Package cache keeps downstream read caches coherent with the candle
// store. The store is the source of truth; cache failures degrade to
// stale reads, never to errors on the write path.
package cache

import (
	"context"

	"market-data-lab/internal/domain"
)

// Invalidator drops cached reads for a pair after its data changes.
type Invalidator interface {
	// InvalidateCandles removes cached candle responses for a pair.
	InvalidateCandles(ctx context.Context, symbol string, tf domain.Timeframe) error

	// InvalidateLevels removes the cached level set for a pair.
	InvalidateLevels(ctx context.Context, symbol string, tf domain.Timeframe) error
}

// Noop is an Invalidator that does nothing. Used when no cache is
// deployed.
type Noop struct{}

// NewNoop creates a no-op invalidator.
func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) InvalidateCandles(context.Context, string, domain.Timeframe) error {
	return nil
}

func (*Noop) InvalidateLevels(context.Context, string, domain.Timeframe) error {
	return nil
}

var _ Invalidator = (*Noop)(nil)
