package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu   sync.RWMutex
	data map[string]*domain.IngestionCursor
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		data: make(map[string]*domain.IngestionCursor),
	}
}

func cursorKey(symbol string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s|%s", symbol, tf)
}

// Get retrieves the cursor for a pair. Returns ErrNotFound if missing.
func (s *CursorStore) Get(_ context.Context, symbol string, tf domain.Timeframe) (*domain.IngestionCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[cursorKey(symbol, tf)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *c
	return &copy, nil
}

// Put creates or advances a cursor.
func (s *CursorStore) Put(_ context.Context, c *domain.IngestionCursor) error {
	if c == nil || c.Symbol == "" || !c.Timeframe.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	copy.LastTime = copy.LastTime.UTC()
	copy.UpdatedAt = time.Now().UTC()
	s.data[cursorKey(c.Symbol, c.Timeframe)] = &copy
	return nil
}

var _ storage.CursorStore = (*CursorStore)(nil)
