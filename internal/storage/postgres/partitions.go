package postgres

import (
	"context"
	"fmt"
	"time"
)

// PartitionManager maintains the monthly range partitions backing the
// ohlc_candles table. Partitions are created ahead of the write frontier
// and dropped wholesale once retention passes them, which is far cheaper
// than row-level deletes.
type PartitionManager struct {
	pool *Pool
}

// NewPartitionManager creates a new PartitionManager.
func NewPartitionManager(pool *Pool) *PartitionManager {
	return &PartitionManager{pool: pool}
}

// monthStart returns the UTC start of the month containing t.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// partitionName returns the child table name for a month, e.g.
// ohlc_candles_2026_08.
func partitionName(month time.Time) string {
	return fmt.Sprintf("ohlc_candles_%04d_%02d", month.Year(), int(month.Month()))
}

// EnsureRange creates the monthly partitions covering [from, to].
// Existing partitions are left untouched. Returns the names created.
func (m *PartitionManager) EnsureRange(ctx context.Context, from, to time.Time) ([]string, error) {
	var created []string

	for month := monthStart(from); !month.After(monthStart(to)); month = month.AddDate(0, 1, 0) {
		next := month.AddDate(0, 1, 0)
		name := partitionName(month)

		query := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF ohlc_candles FOR VALUES FROM ('%s') TO ('%s')`,
			name,
			month.Format("2006-01-02"),
			next.Format("2006-01-02"),
		)
		if _, err := m.pool.Exec(ctx, query); err != nil {
			return created, fmt.Errorf("create partition %s: %w", name, err)
		}
		created = append(created, name)
	}

	return created, nil
}

// EnsureAhead creates partitions from the current month through months
// ahead of now.
func (m *PartitionManager) EnsureAhead(ctx context.Context, now time.Time, months int) ([]string, error) {
	return m.EnsureRange(ctx, now, monthStart(now).AddDate(0, months, 0))
}

// DropBefore drops whole partitions that end at or before cutoff.
// Partitions straddling the cutoff are kept; DeleteBefore handles the
// rows inside them.
func (m *PartitionManager) DropBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'ohlc_candles'
		ORDER BY c.relname
	`

	rows, err := m.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan partition name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition names: %w", err)
	}

	cutoffMonth := monthStart(cutoff)

	var dropped []string
	for _, name := range names {
		var year, month int
		if _, err := fmt.Sscanf(name, "ohlc_candles_%d_%d", &year, &month); err != nil {
			continue
		}
		end := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		if end.After(cutoffMonth) {
			continue
		}
		if _, err := m.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
			return dropped, fmt.Errorf("drop partition %s: %w", name, err)
		}
		dropped = append(dropped, name)
	}

	return dropped, nil
}
