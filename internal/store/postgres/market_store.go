package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

const marketCols = `id, condition_id, question, slug, yes_token_id, no_token_id,
	yes_price, no_price, volume, liquidity, is_active, is_tracked,
	created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ID, &m.ConditionID, &m.Question, &m.Slug,
		&m.TokenIDs[0], &m.TokenIDs[1],
		&m.YesPrice, &m.NoPrice, &m.Volume, &m.Liquidity,
		&m.Active, &m.Tracked,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func getMarket(ctx context.Context, q querier, id string) (domain.Market, error) {
	row := q.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// listTrackedMarkets returns tracked markets by volume, descending.
func listTrackedMarkets(ctx context.Context, q querier, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE is_tracked ORDER BY volume DESC, id`
	args := []any{}
	argIdx := 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tracked markets rows: %w", err)
	}
	return markets, nil
}

// upsertMarket inserts m, or refreshes metadata and the tracked flag of an
// existing row. Prices and volume are left to updateMarketState.
func upsertMarket(ctx context.Context, q querier, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, condition_id, question, slug, yes_token_id, no_token_id,
			yes_price, no_price, volume, liquidity, is_active, is_tracked,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			condition_id = EXCLUDED.condition_id,
			question     = EXCLUDED.question,
			slug         = EXCLUDED.slug,
			yes_token_id = EXCLUDED.yes_token_id,
			no_token_id  = EXCLUDED.no_token_id,
			is_tracked   = EXCLUDED.is_tracked,
			updated_at   = NOW()`

	_, err := q.Exec(ctx, query,
		m.ID, m.ConditionID, m.Question, m.Slug,
		m.TokenIDs[0], m.TokenIDs[1],
		m.YesPrice, m.NoPrice, m.Volume, m.Liquidity,
		m.Active, m.Tracked,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// updateMarketState writes the poller-owned fields of m.
func updateMarketState(ctx context.Context, q querier, m domain.Market) error {
	const query = `
		UPDATE markets SET
			yes_price  = $2,
			no_price   = $3,
			volume     = $4,
			liquidity  = $5,
			is_active  = $6,
			updated_at = $7
		WHERE id = $1`

	tag, err := q.Exec(ctx, query,
		m.ID, m.YesPrice, m.NoPrice, m.Volume, m.Liquidity, m.Active, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}
