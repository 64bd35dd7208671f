package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RollupCandle is a pre-aggregated bucket derived from finer candles.
// It is a cache of Candle data rebuilt by the rollup refresher, never a
// source of truth.
type RollupCandle struct {
	BucketStart time.Time
	Symbol      string
	Timeframe   Timeframe // timeframe of the source candles
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	SourceRows  int // number of raw candles aggregated into the bucket
}
