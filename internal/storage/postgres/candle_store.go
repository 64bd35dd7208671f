package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL. Rows live
// in the range-partitioned ohlc_candles table; writes to months without a
// partition surface as storage.ErrPartitionMissing.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertBatch writes candles keyed by (time, symbol, timeframe).
// The whole batch is applied in one transaction; re-applying the same
// batch leaves the table unchanged.
func (s *CandleStore) UpsertBatch(ctx context.Context, candles []*domain.Candle) (storage.UpsertResult, error) {
	var result storage.UpsertResult
	if len(candles) == 0 {
		return result, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// xmax = 0 only holds for rows created by this statement, which
	// distinguishes inserts from conflict updates.
	query := `
		INSERT INTO ohlc_candles (time, symbol, timeframe, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (time, symbol, timeframe) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
		RETURNING (xmax = 0)
	`

	for _, c := range candles {
		var inserted bool
		err := tx.QueryRow(ctx, query,
			c.Time,
			c.Symbol,
			string(c.Timeframe),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
		).Scan(&inserted)
		if err != nil {
			if isPartitionMissingError(err) {
				return storage.UpsertResult{}, fmt.Errorf("upsert candle at %s: %w", c.Time.Format(time.RFC3339), storage.ErrPartitionMissing)
			}
			return storage.UpsertResult{}, fmt.Errorf("upsert candle: %w", err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("commit tx: %w", err)
	}

	return result, nil
}

// GetRange retrieves candles for a pair within [from, to), ordered by time ASC.
func (s *CandleStore) GetRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	query := `
		SELECT time, symbol, timeframe, open, high, low, close, volume
		FROM ohlc_candles
		WHERE symbol = $1 AND timeframe = $2 AND time >= $3 AND time < $4
		ORDER BY time ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("get candles by range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLatest retrieves the most recent limit candles for a pair, ordered by
// time ASC.
func (s *CandleStore) GetLatest(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]*domain.Candle, error) {
	query := `
		SELECT time, symbol, timeframe, open, high, low, close, volume
		FROM ohlc_candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY time DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}

	// Fetched newest-first for the index, returned oldest-first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// LastTime returns the time of the newest candle for a pair.
func (s *CandleStore) LastTime(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, error) {
	query := `
		SELECT time
		FROM ohlc_candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY time DESC
		LIMIT 1
	`

	var t time.Time
	err := s.pool.QueryRow(ctx, query, symbol, string(tf)).Scan(&t)
	if err != nil {
		if isNotFoundError(err) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("get last candle time: %w", err)
	}

	return t.UTC(), nil
}

// DeleteBefore removes candles older than cutoff across all pairs.
func (s *CandleStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ohlc_candles WHERE time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old candles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanCandles scans multiple rows into a slice of Candle.
func scanCandles(rows pgx.Rows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var (
			c  domain.Candle
			tf string
		)

		err := rows.Scan(
			&c.Time,
			&c.Symbol,
			&tf,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		c.Time = c.Time.UTC()
		c.Timeframe = domain.Timeframe(tf)
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
