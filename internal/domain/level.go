package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwingKind distinguishes local maxima from local minima.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a local price extremum relative to neighboring candles.
// Intermediate result of zone detection, never persisted.
type SwingPoint struct {
	Time   time.Time
	Price  decimal.Decimal
	Kind   SwingKind
	Volume decimal.Decimal
	// Index is the candle's position in the detection window, used for
	// recency weighting.
	Index int
}

// ZoneSide classifies a liquidity zone relative to the current close.
type ZoneSide string

const (
	SideSupport    ZoneSide = "support"
	SideResistance ZoneSide = "resistance"
)

// LiquidityZone is a clustered price band identified as likely support or
// resistance. Produced on demand from a candle window; reflects only the
// window it was computed from.
type LiquidityZone struct {
	PriceLow            decimal.Decimal
	PriceHigh           decimal.Decimal
	RepresentativePrice decimal.Decimal // band midpoint
	Side                ZoneSide
	Strength            float64
	TouchCount          int
	ContributingTimes   []time.Time // swing point times, oldest first
}

// LevelSet is the result of a zone detection run, per side, strongest
// first.
type LevelSet struct {
	Support    []LiquidityZone
	Resistance []LiquidityZone
}
