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

// RollupStore is an in-memory implementation of storage.RollupStore.
type RollupStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RollupCandle // keyed by composite key
}

// NewRollupStore creates a new in-memory rollup store.
func NewRollupStore() *RollupStore {
	return &RollupStore{
		data: make(map[string]*domain.RollupCandle),
	}
}

func rollupKey(symbol string, tf domain.Timeframe, bucketStart time.Time) string {
	return fmt.Sprintf("%s|%s|%d", symbol, tf, bucketStart.UTC().UnixMilli())
}

// ReplaceRange rebuilds rollups for a pair within [from, to).
func (s *RollupStore) ReplaceRange(_ context.Context, symbol string, tf domain.Timeframe, from, to time.Time, rollups []*domain.RollupCandle) error {
	for _, r := range rollups {
		if r.BucketStart.Before(from) || !r.BucketStart.Before(to) {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, r := range s.data {
		if r.Symbol == symbol && r.Timeframe == tf && !r.BucketStart.Before(from) && r.BucketStart.Before(to) {
			delete(s.data, key)
		}
	}

	for _, r := range rollups {
		copy := *r
		copy.BucketStart = copy.BucketStart.UTC()
		s.data[rollupKey(symbol, tf, r.BucketStart)] = &copy
	}

	return nil
}

// GetRange retrieves rollups for a pair within [from, to), ordered by
// bucket start ASC.
func (s *RollupStore) GetRange(_ context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]*domain.RollupCandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RollupCandle
	for _, r := range s.data {
		if r.Symbol == symbol && r.Timeframe == tf && !r.BucketStart.Before(from) && r.BucketStart.Before(to) {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketStart.Before(result[j].BucketStart)
	})

	return result, nil
}

var _ storage.RollupStore = (*RollupStore)(nil)
