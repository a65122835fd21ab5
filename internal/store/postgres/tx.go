package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the queries need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store on a connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Begin opens a read-committed transaction.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx implements domain.Tx on a pgx transaction. Nested transactions are
// savepoints.
type Tx struct {
	tx pgx.Tx
}

// Begin opens a savepoint inside t.
func (t *Tx) Begin(ctx context.Context) (domain.Tx, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: savepoint: %w", err)
	}
	return &Tx{tx: sp}, nil
}

// Commit commits the transaction, or releases the savepoint.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction or savepoint. It is a no-op once the
// transaction has been committed or rolled back.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return fmt.Errorf("postgres: rollback: %w", err)
}

func (t *Tx) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, t.tx, id)
}

func (t *Tx) ListTrackedMarkets(ctx context.Context) ([]domain.Market, error) {
	return listTrackedMarkets(ctx, t.tx, domain.ListOpts{})
}

func (t *Tx) UpsertMarket(ctx context.Context, m domain.Market) error {
	return upsertMarket(ctx, t.tx, m)
}

func (t *Tx) UpdateMarketState(ctx context.Context, m domain.Market) error {
	return updateMarketState(ctx, t.tx, m)
}

func (t *Tx) LatestSnapshot(ctx context.Context, marketID string) (domain.PriceSnapshot, error) {
	return latestSnapshot(ctx, t.tx, marketID)
}

func (t *Tx) SnapshotsBetween(ctx context.Context, marketID string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	return snapshotsBetween(ctx, t.tx, marketID, from, to)
}

func (t *Tx) SnapshotAtOrBefore(ctx context.Context, marketID string, at time.Time) (domain.PriceSnapshot, error) {
	return snapshotAtOrBefore(ctx, t.tx, marketID, at)
}

func (t *Tx) InsertSnapshot(ctx context.Context, s domain.PriceSnapshot) (int64, error) {
	return insertSnapshot(ctx, t.tx, s)
}

func (t *Tx) InsertSignal(ctx context.Context, s domain.Signal) (int64, error) {
	return insertSignal(ctx, t.tx, s)
}
