package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// ArchiveStore implements domain.ArchiveSource: it pages through rows that
// have aged past the retention window and remembers how far each kind has
// been copied. It never deletes.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates a new ArchiveStore backed by the given connection pool.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// SnapshotsAfter returns up to limit snapshots ordered by (timestamp, id)
// that sort after the cursor and are older than before.
func (s *ArchiveStore) SnapshotsAfter(ctx context.Context, after domain.ArchiveCursor, before time.Time, limit int) ([]domain.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE (timestamp, id) > ($1, $2) AND timestamp < $3
		 ORDER BY timestamp, id LIMIT $4`,
		after.Timestamp, after.ID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshots before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectSnapshots(rows)
}

// SignalsAfter returns up to limit signals ordered by (timestamp, id) that
// sort after the cursor and are older than before.
func (s *ArchiveStore) SignalsAfter(ctx context.Context, after domain.ArchiveCursor, before time.Time, limit int) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalCols+` FROM signals
		 WHERE (timestamp, id) > ($1, $2) AND timestamp < $3
		 ORDER BY timestamp, id LIMIT $4`,
		after.Timestamp, after.ID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: signals before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectSignals(rows)
}

// Cursor returns the last archived position for kind, or the zero cursor
// when nothing has been archived yet.
func (s *ArchiveStore) Cursor(ctx context.Context, kind string) (domain.ArchiveCursor, error) {
	var c domain.ArchiveCursor
	err := s.pool.QueryRow(ctx,
		`SELECT last_timestamp, last_id FROM archive_cursors WHERE kind = $1`, kind,
	).Scan(&c.Timestamp, &c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ArchiveCursor{}, nil
	}
	if err != nil {
		return domain.ArchiveCursor{}, fmt.Errorf("postgres: archive cursor %s: %w", kind, err)
	}
	return c, nil
}

// SetCursor records c as the last archived position for kind.
func (s *ArchiveStore) SetCursor(ctx context.Context, kind string, c domain.ArchiveCursor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO archive_cursors (kind, last_timestamp, last_id, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (kind) DO UPDATE
		 SET last_timestamp = EXCLUDED.last_timestamp,
		     last_id = EXCLUDED.last_id,
		     updated_at = EXCLUDED.updated_at`,
		kind, c.Timestamp, c.ID)
	if err != nil {
		return fmt.Errorf("postgres: set archive cursor %s: %w", kind, err)
	}
	return nil
}
