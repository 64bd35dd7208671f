// Package stub provides a deterministic in-process kline source for
// development and tests. The same (symbol, timeframe, time) always yields
// the same candle, so repeated backfills exercise the dedup path the way
// a real venue would.
package stub

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/provider"
)

// Source implements provider.KlineSource with synthetic data.
type Source struct {
	// BasePrice anchors the generated series. Defaults to 100.
	BasePrice float64
}

// NewSource creates a new stub source.
func NewSource() *Source {
	return &Source{BasePrice: 100}
}

// Compile-time interface check.
var _ provider.KlineSource = (*Source)(nil)

// FetchKlines generates up to limit candles with open times in [from, to),
// aligned to timeframe buckets, oldest first.
func (s *Source) FetchKlines(_ context.Context, symbol string, tf domain.Timeframe, from, to time.Time, limit int) ([]*domain.RawCandle, error) {
	if !tf.Valid() {
		return nil, &provider.FetchError{Err: fmt.Errorf("unknown timeframe %q", tf)}
	}
	if limit <= 0 {
		limit = 1000
	}

	step := tf.Duration()
	start := domain.BucketStart(from, step)
	if start.Before(from) {
		start = start.Add(step)
	}

	var candles []*domain.RawCandle
	for t := start; t.Before(to) && len(candles) < limit; t = t.Add(step) {
		candles = append(candles, s.candleAt(symbol, tf, t))
	}

	return candles, nil
}

// candleAt derives a candle from a sine walk plus symbol-seeded noise.
// Prices satisfy low <= open,close <= high by construction.
func (s *Source) candleAt(symbol string, tf domain.Timeframe, t time.Time) *domain.RawCandle {
	base := s.BasePrice
	if base <= 0 {
		base = 100
	}

	seed := float64(seedFor(symbol, tf)%1000) / 1000
	phase := float64(t.Unix()) / 40000
	mid := base * (1 + 0.05*math.Sin(phase+seed*2*math.Pi))

	noise := float64(seedFor(symbol, tf)^uint64(t.Unix()))/float64(math.MaxUint64)*0.01 + 0.002
	open := mid * (1 - noise/2)
	closep := mid * (1 + noise/2)
	high := closep * (1 + noise)
	low := open * (1 - noise)
	volume := 1000 * (1 + 0.5*math.Sin(phase*3+seed))

	return &domain.RawCandle{
		OpenTimeMs: t.UTC().UnixMilli(),
		Open:       fmt.Sprintf("%.8f", open),
		High:       fmt.Sprintf("%.8f", high),
		Low:        fmt.Sprintf("%.8f", low),
		Close:      fmt.Sprintf("%.8f", closep),
		Volume:     fmt.Sprintf("%.8f", volume),
	}
}

func seedFor(symbol string, tf domain.Timeframe) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte("|"))
	h.Write([]byte(tf))
	return h.Sum64()
}
