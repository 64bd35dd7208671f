// Package provider fetches raw candles from external market data sources.
// Sources return provider-format candles untouched; normalization and
// validation belong to the ingestion pipeline.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-data-lab/internal/domain"
)

// KlineSource fetches historical candles from an external venue.
type KlineSource interface {
	// FetchKlines retrieves up to limit raw candles for a pair with open
	// times in [from, to), oldest first. A short or empty page means the
	// venue has no more data in the range.
	FetchKlines(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time, limit int) ([]*domain.RawCandle, error)
}

// StreamSource delivers live candle updates over a push channel.
type StreamSource interface {
	// Subscribe starts streaming raw candles for the pairs. The channel
	// closes when ctx is cancelled or the connection is lost for good.
	Subscribe(ctx context.Context, pairs []Pair) (<-chan StreamEvent, error)
}

// Pair identifies one (symbol, timeframe) subscription.
type Pair struct {
	Symbol    string
	Timeframe domain.Timeframe
}

// StreamEvent is one live candle update. Closed reports whether the
// venue considers the candle final.
type StreamEvent struct {
	Symbol    string
	Timeframe domain.Timeframe
	Candle    *domain.RawCandle
	Closed    bool
}

// FetchError wraps a source failure with a transience classification.
// Transient failures (timeouts, throttling, 5xx) are worth retrying;
// permanent ones (bad symbol, malformed response) are not.
type FetchError struct {
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient fetch error: %v", e.Err)
	}
	return fmt.Sprintf("permanent fetch error: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable source failure.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}
