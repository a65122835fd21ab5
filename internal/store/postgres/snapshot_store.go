package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

const snapshotCols = `id, market_id, timestamp, yes_price, no_price,
	volume, cumulative_volume, bid_depth, ask_depth`

func scanSnapshot(row pgx.Row) (domain.PriceSnapshot, error) {
	var s domain.PriceSnapshot
	err := row.Scan(
		&s.ID, &s.MarketID, &s.Timestamp, &s.YesPrice, &s.NoPrice,
		&s.Volume, &s.CumulativeVolume, &s.BidDepth, &s.AskDepth,
	)
	return s, err
}

func collectSnapshots(rows pgx.Rows) ([]domain.PriceSnapshot, error) {
	defer rows.Close()
	var out []domain.PriceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot rows: %w", err)
	}
	return out, nil
}

func insertSnapshot(ctx context.Context, q querier, s domain.PriceSnapshot) (int64, error) {
	const query = `
		INSERT INTO price_snapshots (
			market_id, timestamp, yes_price, no_price,
			volume, cumulative_volume, bid_depth, ask_depth
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := q.QueryRow(ctx, query,
		s.MarketID, s.Timestamp, s.YesPrice, s.NoPrice,
		s.Volume, s.CumulativeVolume, s.BidDepth, s.AskDepth,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert snapshot for %s: %w", s.MarketID, err)
	}
	return id, nil
}

func latestSnapshot(ctx context.Context, q querier, marketID string) (domain.PriceSnapshot, error) {
	row := q.QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE market_id = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`, marketID)
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceSnapshot{}, domain.ErrNotFound
		}
		return domain.PriceSnapshot{}, fmt.Errorf("postgres: latest snapshot for %s: %w", marketID, err)
	}
	return s, nil
}

// snapshotsBetween returns snapshots with from <= timestamp < to, oldest
// first.
func snapshotsBetween(ctx context.Context, q querier, marketID string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	rows, err := q.Query(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE market_id = $1 AND timestamp >= $2 AND timestamp < $3
		 ORDER BY timestamp, id`, marketID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshots between for %s: %w", marketID, err)
	}
	return collectSnapshots(rows)
}

func snapshotAtOrBefore(ctx context.Context, q querier, marketID string, at time.Time) (domain.PriceSnapshot, error) {
	row := q.QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE market_id = $1 AND timestamp <= $2
		 ORDER BY timestamp DESC, id DESC LIMIT 1`, marketID, at)
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceSnapshot{}, domain.ErrNotFound
		}
		return domain.PriceSnapshot{}, fmt.Errorf("postgres: snapshot at %s for %s: %w", at.Format(time.RFC3339), marketID, err)
	}
	return s, nil
}
