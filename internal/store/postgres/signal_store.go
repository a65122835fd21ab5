package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

const signalCols = `id, market_id, signal_type, timestamp, score, details,
	price_at_signal, volume_at_signal, is_acknowledged, is_published, created_at`

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var (
		s      domain.Signal
		kind   string
		detail []byte
	)
	err := row.Scan(
		&s.ID, &s.MarketID, &kind, &s.Timestamp, &s.Score, &detail,
		&s.PriceAtSignal, &s.VolumeAtSignal, &s.Acknowledged, &s.Published, &s.CreatedAt,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	s.Kind = domain.SignalKind(kind)
	s.Detail, err = domain.DecodeDetail(s.Kind, detail)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("signal %d: %w", s.ID, err)
	}
	return s, nil
}

func collectSignals(rows pgx.Rows) ([]domain.Signal, error) {
	defer rows.Close()
	var out []domain.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: signal rows: %w", err)
	}
	return out, nil
}

func insertSignal(ctx context.Context, q querier, s domain.Signal) (int64, error) {
	if s.Detail == nil || s.Detail.Kind() != s.Kind {
		return 0, fmt.Errorf("postgres: insert signal for %s: detail does not match kind %s: %w",
			s.MarketID, s.Kind, domain.ErrInvalidInput)
	}
	detail, err := json.Marshal(s.Detail)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal %s detail: %w", s.Kind, err)
	}

	const query = `
		INSERT INTO signals (
			market_id, signal_type, timestamp, score, details,
			price_at_signal, volume_at_signal, is_acknowledged, is_published
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err = q.QueryRow(ctx, query,
		s.MarketID, string(s.Kind), s.Timestamp, s.Score, detail,
		s.PriceAtSignal, s.VolumeAtSignal, s.Acknowledged, s.Published,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert %s signal for %s: %w", s.Kind, s.MarketID, err)
	}
	return id, nil
}
