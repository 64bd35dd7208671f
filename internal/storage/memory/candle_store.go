package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by composite key
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

// candleKey generates a unique key for a candle.
func candleKey(t time.Time, symbol string, tf domain.Timeframe) string {
	return fmt.Sprintf("%d|%s|%s", t.UTC().UnixMilli(), symbol, tf)
}

// UpsertBatch writes candles keyed by (time, symbol, timeframe).
func (s *CandleStore) UpsertBatch(_ context.Context, candles []*domain.Candle) (storage.UpsertResult, error) {
	var result storage.UpsertResult
	if len(candles) == 0 {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c == nil || c.Symbol == "" || !c.Timeframe.Valid() {
			return storage.UpsertResult{}, storage.ErrInvalidInput
		}
	}

	for _, c := range candles {
		key := candleKey(c.Time, c.Symbol, c.Timeframe)
		if _, exists := s.data[key]; exists {
			result.Updated++
		} else {
			result.Inserted++
		}
		copy := *c
		copy.Time = copy.Time.UTC()
		s.data[key] = &copy
	}

	return result, nil
}

// GetRange retrieves candles for a pair within [from, to), ordered by time ASC.
func (s *CandleStore) GetRange(_ context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.Symbol == symbol && c.Timeframe == tf && !c.Time.Before(from) && c.Time.Before(to) {
			copy := *c
			result = append(result, &copy)
		}
	}

	sortCandlesByTime(result)
	return result, nil
}

// GetLatest retrieves the most recent limit candles for a pair, ordered by
// time ASC.
func (s *CandleStore) GetLatest(_ context.Context, symbol string, tf domain.Timeframe, limit int) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.Symbol == symbol && c.Timeframe == tf {
			copy := *c
			result = append(result, &copy)
		}
	}

	sortCandlesByTime(result)
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// LastTime returns the time of the newest candle for a pair.
func (s *CandleStore) LastTime(_ context.Context, symbol string, tf domain.Timeframe) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	found := false
	for _, c := range s.data {
		if c.Symbol == symbol && c.Timeframe == tf && c.Time.After(last) {
			last = c.Time
			found = true
		}
	}

	if !found {
		return time.Time{}, storage.ErrNotFound
	}
	return last, nil
}

// DeleteBefore removes candles older than cutoff across all pairs.
func (s *CandleStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, c := range s.data {
		if c.Time.Before(cutoff) {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

func sortCandlesByTime(candles []*domain.Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
}

var _ storage.CandleStore = (*CandleStore)(nil)
