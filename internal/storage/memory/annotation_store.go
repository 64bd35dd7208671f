package memory

import (
	"context"
	"sort"
	"sync"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// AnnotationStore is an in-memory implementation of storage.AnnotationStore.
type AnnotationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Annotation // keyed by ID
}

// NewAnnotationStore creates a new in-memory annotation store.
func NewAnnotationStore() *AnnotationStore {
	return &AnnotationStore{
		data: make(map[string]*domain.Annotation),
	}
}

// Insert adds a new annotation. Returns ErrDuplicateKey if the ID exists.
func (s *AnnotationStore) Insert(_ context.Context, a *domain.Annotation) error {
	if a == nil || a.ID == "" || a.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *a
	s.data[a.ID] = &copy
	return nil
}

// GetBySymbol retrieves up to limit annotations for a symbol, newest first.
func (s *AnnotationStore) GetBySymbol(_ context.Context, symbol string, limit int) ([]*domain.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Annotation
	for _, a := range s.data {
		if a.Symbol == symbol {
			copy := *a
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Delete removes an annotation by ID. Returns ErrNotFound if missing.
func (s *AnnotationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

var _ storage.AnnotationStore = (*AnnotationStore)(nil)
