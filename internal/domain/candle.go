package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe identifies the interval granularity of a candle series.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the interval length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid reports whether the timeframe is one of the supported values.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// BucketStart truncates t to the start of the bucket of the given size.
// Day-sized buckets align to UTC midnight rather than the Unix epoch.
func BucketStart(t time.Time, bucket time.Duration) time.Time {
	t = t.UTC()
	if bucket >= 24*time.Hour {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(bucket)
}

// Candle is one OHLCV observation keyed by (time, symbol, timeframe).
type Candle struct {
	Time      time.Time
	Symbol    string
	Timeframe Timeframe
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Validate checks the OHLCV invariants: low <= open,close <= high and
// volume >= 0. Returns a descriptive error for the first violation.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("unknown timeframe %q", c.Timeframe)
	}
	if c.Time.IsZero() {
		return fmt.Errorf("zero time")
	}
	if c.Low.GreaterThan(c.High) {
		return fmt.Errorf("low %s above high %s", c.Low, c.High)
	}
	if c.Open.LessThan(c.Low) || c.Open.GreaterThan(c.High) {
		return fmt.Errorf("open %s outside [%s, %s]", c.Open, c.Low, c.High)
	}
	if c.Close.LessThan(c.Low) || c.Close.GreaterThan(c.High) {
		return fmt.Errorf("close %s outside [%s, %s]", c.Close, c.Low, c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("negative volume %s", c.Volume)
	}
	return nil
}

// RawCandle is a provider-format candle before normalization: epoch
// milliseconds and string-encoded prices, as quote APIs deliver them.
type RawCandle struct {
	OpenTimeMs int64
	Open       string
	High       string
	Low        string
	Close      string
	Volume     string
}

// Normalize converts a raw candle to the canonical representation:
// UTC time and fixed-precision decimals.
func (r *RawCandle) Normalize(symbol string, tf Timeframe) (*Candle, error) {
	open, err := decimal.NewFromString(r.Open)
	if err != nil {
		return nil, fmt.Errorf("parse open %q: %w", r.Open, err)
	}
	high, err := decimal.NewFromString(r.High)
	if err != nil {
		return nil, fmt.Errorf("parse high %q: %w", r.High, err)
	}
	low, err := decimal.NewFromString(r.Low)
	if err != nil {
		return nil, fmt.Errorf("parse low %q: %w", r.Low, err)
	}
	closep, err := decimal.NewFromString(r.Close)
	if err != nil {
		return nil, fmt.Errorf("parse close %q: %w", r.Close, err)
	}
	volume, err := decimal.NewFromString(r.Volume)
	if err != nil {
		return nil, fmt.Errorf("parse volume %q: %w", r.Volume, err)
	}

	return &Candle{
		Time:      time.UnixMilli(r.OpenTimeMs).UTC(),
		Symbol:    symbol,
		Timeframe: tf,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closep,
		Volume:    volume,
	}, nil
}
