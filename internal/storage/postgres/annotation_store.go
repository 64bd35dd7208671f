package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// AnnotationStore implements storage.AnnotationStore using PostgreSQL.
// Annotation payloads are stored as jsonb and never interpreted here.
type AnnotationStore struct {
	pool *Pool
}

// NewAnnotationStore creates a new AnnotationStore.
func NewAnnotationStore(pool *Pool) *AnnotationStore {
	return &AnnotationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AnnotationStore = (*AnnotationStore)(nil)

// Insert adds a new annotation. Returns ErrDuplicateKey if the ID exists.
func (s *AnnotationStore) Insert(ctx context.Context, a *domain.Annotation) error {
	query := `
		INSERT INTO annotations (id, symbol, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, a.ID, a.Symbol, a.Payload, a.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

// GetBySymbol retrieves up to limit annotations for a symbol, newest first.
func (s *AnnotationStore) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Annotation, error) {
	query := `
		SELECT id, symbol, payload, created_at
		FROM annotations
		WHERE symbol = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("get annotations by symbol: %w", err)
	}
	defer rows.Close()

	return scanAnnotations(rows)
}

// Delete removes an annotation by ID. Returns ErrNotFound if it does not exist.
func (s *AnnotationStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM annotations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanAnnotations scans multiple rows into a slice of Annotation.
func scanAnnotations(rows pgx.Rows) ([]*domain.Annotation, error) {
	var annotations []*domain.Annotation

	for rows.Next() {
		var a domain.Annotation

		err := rows.Scan(
			&a.ID,
			&a.Symbol,
			&a.Payload,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}

		a.CreatedAt = a.CreatedAt.UTC()
		annotations = append(annotations, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation rows: %w", err)
	}

	return annotations, nil
}
