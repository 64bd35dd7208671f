package postgres

import (
	"context"
	"fmt"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get retrieves the cursor for a pair. Returns ErrNotFound if the pair has
// never been ingested.
func (s *CursorStore) Get(ctx context.Context, symbol string, tf domain.Timeframe) (*domain.IngestionCursor, error) {
	query := `
		SELECT symbol, timeframe, last_time, updated_at
		FROM ingestion_cursors
		WHERE symbol = $1 AND timeframe = $2
	`

	var (
		cur   domain.IngestionCursor
		tfStr string
	)
	err := s.pool.QueryRow(ctx, query, symbol, string(tf)).Scan(
		&cur.Symbol,
		&tfStr,
		&cur.LastTime,
		&cur.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}

	cur.Timeframe = domain.Timeframe(tfStr)
	cur.LastTime = cur.LastTime.UTC()
	cur.UpdatedAt = cur.UpdatedAt.UTC()
	return &cur, nil
}

// Put creates or advances a cursor.
func (s *CursorStore) Put(ctx context.Context, c *domain.IngestionCursor) error {
	query := `
		INSERT INTO ingestion_cursors (symbol, timeframe, last_time, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (symbol, timeframe) DO UPDATE SET
			last_time = EXCLUDED.last_time,
			updated_at = now()
	`

	_, err := s.pool.Exec(ctx, query, c.Symbol, string(c.Timeframe), c.LastTime)
	if err != nil {
		return fmt.Errorf("put cursor: %w", err)
	}
	return nil
}
