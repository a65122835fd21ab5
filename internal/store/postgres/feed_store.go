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

// FeedStore implements domain.SignalFeed using PostgreSQL.
type FeedStore struct {
	pool *pgxpool.Pool
}

// NewFeedStore creates a new FeedStore backed by the given connection pool.
func NewFeedStore(pool *pgxpool.Pool) *FeedStore {
	return &FeedStore{pool: pool}
}

// ListSignals returns signals matching f, newest first.
func (s *FeedStore) ListSignals(ctx context.Context, f domain.SignalFilter) ([]domain.Signal, error) {
	query := `SELECT ` + signalCols + ` FROM signals WHERE score >= $1`
	args := []any{f.MinScore}
	argIdx := 2

	if f.Kind != "" {
		query += fmt.Sprintf(" AND signal_type = $%d", argIdx)
		args = append(args, string(f.Kind))
		argIdx++
	}
	if f.MarketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, f.MarketID)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	return collectSignals(rows)
}

// TopSignals returns the highest-scoring signals raised since the given time.
func (s *FeedStore) TopSignals(ctx context.Context, since time.Time, limit int) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalCols+` FROM signals
		 WHERE timestamp >= $1
		 ORDER BY score DESC, timestamp DESC
		 LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top signals: %w", err)
	}
	return collectSignals(rows)
}

// ListMarketSummaries returns tracked markets by volume with their signal
// activity since signalSince.
func (s *FeedStore) ListMarketSummaries(ctx context.Context, signalSince time.Time, opts domain.ListOpts) ([]domain.MarketSummary, error) {
	query := `
		SELECT m.id, m.condition_id, m.question, m.slug, m.yes_token_id, m.no_token_id,
		       m.yes_price, m.no_price, m.volume, m.liquidity, m.is_active, m.is_tracked,
		       m.created_at, m.updated_at,
		       COALESCE(sig.cnt, 0), sig.last_at
		FROM markets m
		LEFT JOIN (
			SELECT market_id, COUNT(*) AS cnt, MAX(timestamp) AS last_at
			FROM signals
			WHERE timestamp >= $1
			GROUP BY market_id
		) sig ON sig.market_id = m.id
		WHERE m.is_tracked
		ORDER BY m.volume DESC, m.id`
	args := []any{signalSince}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSummary
	for rows.Next() {
		var ms domain.MarketSummary
		m := &ms.Market
		if err := rows.Scan(
			&m.ID, &m.ConditionID, &m.Question, &m.Slug,
			&m.TokenIDs[0], &m.TokenIDs[1],
			&m.YesPrice, &m.NoPrice, &m.Volume, &m.Liquidity,
			&m.Active, &m.Tracked, &m.CreatedAt, &m.UpdatedAt,
			&ms.RecentSignals, &ms.LastSignalAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan market summary: %w", err)
		}
		out = append(out, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market summary rows: %w", err)
	}
	return out, nil
}

// GetMarketDetail returns a market with its snapshots since historySince,
// oldest first, and its signalLimit most recent signals.
func (s *FeedStore) GetMarketDetail(ctx context.Context, id string, historySince time.Time, signalLimit int) (domain.MarketDetail, error) {
	m, err := getMarket(ctx, s.pool, id)
	if err != nil {
		return domain.MarketDetail{}, err
	}
	history, err := snapshotsBetween(ctx, s.pool, id, historySince, time.Now().Add(time.Minute))
	if err != nil {
		return domain.MarketDetail{}, err
	}
	signals, err := s.ListSignals(ctx, domain.SignalFilter{
		MarketID: id,
		ListOpts: domain.ListOpts{Limit: signalLimit},
	})
	if err != nil {
		return domain.MarketDetail{}, err
	}
	return domain.MarketDetail{Market: m, History: history, Signals: signals}, nil
}

// Stats summarizes tracked markets and the last 24 hours of signals.
func (s *FeedStore) Stats(ctx context.Context, now time.Time) (domain.FeedStats, error) {
	since := now.Add(-24 * time.Hour)
	stats := domain.FeedStats{SignalsByKind: map[domain.SignalKind]int64{}}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM markets WHERE is_tracked`).Scan(&stats.TrackedMarkets); err != nil {
		return stats, fmt.Errorf("postgres: count tracked markets: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT signal_type, COUNT(*) FROM signals WHERE timestamp >= $1 GROUP BY signal_type`, since)
	if err != nil {
		return stats, fmt.Errorf("postgres: count signals by kind: %w", err)
	}
	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("postgres: scan signal count: %w", err)
		}
		stats.SignalsByKind[domain.SignalKind(kind)] = n
		stats.Signals24h += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("postgres: signal count rows: %w", err)
	}

	top, err := s.TopSignals(ctx, since, 1)
	if err != nil {
		return stats, err
	}
	if len(top) > 0 {
		stats.TopSignal = &top[0]
	}

	row := s.pool.QueryRow(ctx, `
		SELECT market_id, COUNT(*) AS cnt, MAX(timestamp)
		FROM signals
		WHERE timestamp >= $1
		GROUP BY market_id
		ORDER BY cnt DESC, MAX(timestamp) DESC
		LIMIT 1`, since)
	var (
		marketID string
		cnt      int
		lastAt   time.Time
	)
	switch err := row.Scan(&marketID, &cnt, &lastAt); {
	case errors.Is(err, pgx.ErrNoRows):
		return stats, nil
	case err != nil:
		return stats, fmt.Errorf("postgres: most active market: %w", err)
	}
	m, err := getMarket(ctx, s.pool, marketID)
	if err != nil {
		return stats, err
	}
	stats.MostActiveMarket = &domain.MarketSummary{Market: m, RecentSignals: cnt, LastSignalAt: &lastAt}
	return stats, nil
}
