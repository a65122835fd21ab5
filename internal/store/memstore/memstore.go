// Package memstore is an in-memory domain.Store with savepoint semantics for
// package tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// ErrTxDone is returned when a finished transaction is used.
var ErrTxDone = errors.New("memstore: transaction already finished")

type state struct {
	markets   map[string]domain.Market
	snapshots []domain.PriceSnapshot
	signals   []domain.Signal
	nextSnap  int64
	nextSig   int64
}

func (s *state) clone() *state {
	out := &state{
		markets:   make(map[string]domain.Market, len(s.markets)),
		snapshots: append([]domain.PriceSnapshot(nil), s.snapshots...),
		signals:   append([]domain.Signal(nil), s.signals...),
		nextSnap:  s.nextSnap,
		nextSig:   s.nextSig,
	}
	for k, v := range s.markets {
		out.markets[k] = v
	}
	return out
}

// Store is an in-memory domain.Store. Transactions work on a private copy
// that replaces the committed state on Commit; concurrent writers are last
// committer wins.
type Store struct {
	mu      sync.Mutex
	data    *state
	commits int

	// FailSnapshot, when set, is consulted before every snapshot insert.
	FailSnapshot func(marketID string) error
	// FailCommit, when set, is consulted before every top-level commit with
	// the 1-based ordinal of that commit.
	FailCommit func(n int) error
	// FailHistory, when set, is consulted before every historical snapshot
	// read.
	FailHistory func(marketID string) error
	// Now stamps market rows written through UpsertMarket.
	Now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data: &state{markets: map[string]domain.Market{}},
		Now:  time.Now,
	}
}

// Begin opens a top-level transaction.
func (s *Store) Begin(context.Context) (domain.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Tx{store: s, st: s.data.clone()}, nil
}

// Markets returns every stored market, ordered by ID.
func (s *Store) Markets() []domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.data.markets))
	for _, m := range s.data.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshots returns every committed snapshot in insertion order.
func (s *Store) Snapshots() []domain.PriceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PriceSnapshot(nil), s.data.snapshots...)
}

// Signals returns every committed signal in insertion order.
func (s *Store) Signals() []domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Signal(nil), s.data.signals...)
}

// Seed writes markets and snapshots directly into committed state.
func (s *Store) Seed(markets []domain.Market, snaps []domain.PriceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		s.data.markets[m.ID] = m
	}
	for _, sn := range snaps {
		s.data.nextSnap++
		sn.ID = s.data.nextSnap
		s.data.snapshots = append(s.data.snapshots, sn)
	}
}

// Tx is a transaction or savepoint over a Store.
type Tx struct {
	store  *Store
	parent *Tx
	st     *state
	done   bool
}

func (t *Tx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

// Begin opens a savepoint.
func (t *Tx) Begin(context.Context) (domain.Tx, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return &Tx{store: t.store, parent: t, st: t.st.clone()}, nil
}

// Commit publishes the transaction's state to its parent, or to the store.
func (t *Tx) Commit(context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	if t.parent != nil {
		t.parent.st = t.st
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.commits++
	if t.store.FailCommit != nil {
		if err := t.store.FailCommit(t.store.commits); err != nil {
			return err
		}
	}
	t.store.data = t.st
	return nil
}

// Rollback discards the transaction. It is a no-op once finished.
func (t *Tx) Rollback(context.Context) error {
	t.done = true
	return nil
}

func (t *Tx) GetMarket(_ context.Context, id string) (domain.Market, error) {
	if err := t.check(); err != nil {
		return domain.Market{}, err
	}
	m, ok := t.st.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (t *Tx) ListTrackedMarkets(context.Context) ([]domain.Market, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var out []domain.Market
	for _, m := range t.st.markets {
		if m.Tracked {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *Tx) UpsertMarket(_ context.Context, m domain.Market) error {
	if err := t.check(); err != nil {
		return err
	}
	now := t.store.Now()
	if cur, ok := t.st.markets[m.ID]; ok {
		cur.ConditionID = m.ConditionID
		cur.Question = m.Question
		cur.Slug = m.Slug
		cur.TokenIDs = m.TokenIDs
		cur.Tracked = m.Tracked
		cur.UpdatedAt = now
		t.st.markets[m.ID] = cur
		return nil
	}
	m.CreatedAt, m.UpdatedAt = now, now
	t.st.markets[m.ID] = m
	return nil
}

func (t *Tx) UpdateMarketState(_ context.Context, m domain.Market) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, ok := t.st.markets[m.ID]
	if !ok {
		return fmt.Errorf("memstore: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	cur.YesPrice, cur.NoPrice = m.YesPrice, m.NoPrice
	cur.Volume, cur.Liquidity = m.Volume, m.Liquidity
	cur.Active = m.Active
	cur.UpdatedAt = m.UpdatedAt
	t.st.markets[m.ID] = cur
	return nil
}

func (t *Tx) LatestSnapshot(_ context.Context, marketID string) (domain.PriceSnapshot, error) {
	if err := t.check(); err != nil {
		return domain.PriceSnapshot{}, err
	}
	var best *domain.PriceSnapshot
	for i := range t.st.snapshots {
		s := &t.st.snapshots[i]
		if s.MarketID == marketID && (best == nil || !s.Timestamp.Before(best.Timestamp)) {
			best = s
		}
	}
	if best == nil {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return *best, nil
}

func (t *Tx) SnapshotsBetween(_ context.Context, marketID string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if t.store.FailHistory != nil {
		if err := t.store.FailHistory(marketID); err != nil {
			return nil, err
		}
	}
	var out []domain.PriceSnapshot
	for _, s := range t.st.snapshots {
		if s.MarketID == marketID && !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (t *Tx) SnapshotAtOrBefore(_ context.Context, marketID string, at time.Time) (domain.PriceSnapshot, error) {
	if err := t.check(); err != nil {
		return domain.PriceSnapshot{}, err
	}
	if t.store.FailHistory != nil {
		if err := t.store.FailHistory(marketID); err != nil {
			return domain.PriceSnapshot{}, err
		}
	}
	var best *domain.PriceSnapshot
	for i := range t.st.snapshots {
		s := &t.st.snapshots[i]
		if s.MarketID != marketID || s.Timestamp.After(at) {
			continue
		}
		if best == nil || !s.Timestamp.Before(best.Timestamp) {
			best = s
		}
	}
	if best == nil {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return *best, nil
}

func (t *Tx) InsertSnapshot(_ context.Context, s domain.PriceSnapshot) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	if t.store.FailSnapshot != nil {
		if err := t.store.FailSnapshot(s.MarketID); err != nil {
			return 0, err
		}
	}
	if _, ok := t.st.markets[s.MarketID]; !ok {
		return 0, fmt.Errorf("memstore: snapshot for unknown market %s: %w", s.MarketID, domain.ErrNotFound)
	}
	t.st.nextSnap++
	s.ID = t.st.nextSnap
	t.st.snapshots = append(t.st.snapshots, s)
	return s.ID, nil
}

func (t *Tx) InsertSignal(_ context.Context, s domain.Signal) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	if s.Detail == nil || s.Detail.Kind() != s.Kind {
		return 0, fmt.Errorf("memstore: signal detail does not match kind %s: %w", s.Kind, domain.ErrInvalidInput)
	}
	t.st.nextSig++
	s.ID = t.st.nextSig
	s.CreatedAt = t.store.Now()
	t.st.signals = append(t.st.signals, s)
	return s.ID, nil
}
