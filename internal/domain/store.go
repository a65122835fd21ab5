package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Store opens transactional sessions against the snapshot repository.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one transactional session. Begin on a Tx opens a nested savepoint
// whose Rollback undoes only the work done inside it.
//
// Every Tx must end in exactly one Commit or Rollback. Rollback after Commit
// is a no-op, so callers can defer it unconditionally.
type Tx interface {
	GetMarket(ctx context.Context, id string) (Market, error)
	ListTrackedMarkets(ctx context.Context) ([]Market, error)
	// UpsertMarket inserts m or refreshes its metadata. Prices and volume are
	// only written on insert.
	UpsertMarket(ctx context.Context, m Market) error
	UpdateMarketState(ctx context.Context, m Market) error

	LatestSnapshot(ctx context.Context, marketID string) (PriceSnapshot, error)
	// SnapshotsBetween returns snapshots with from <= timestamp < to, oldest
	// first.
	SnapshotsBetween(ctx context.Context, marketID string, from, to time.Time) ([]PriceSnapshot, error)
	// SnapshotAtOrBefore returns the newest snapshot with timestamp <= at.
	SnapshotAtOrBefore(ctx context.Context, marketID string, at time.Time) (PriceSnapshot, error)
	InsertSnapshot(ctx context.Context, s PriceSnapshot) (int64, error)
	InsertSignal(ctx context.Context, s Signal) (int64, error)

	Begin(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SignalFilter narrows a signal feed query. Zero values mean "no filter".
type SignalFilter struct {
	MinScore float64
	Kind     SignalKind
	MarketID string
	ListOpts
}

// MarketSummary is a market with its recent signal activity.
type MarketSummary struct {
	Market
	RecentSignals int
	LastSignalAt  *time.Time
}

// MarketDetail is a market with its recent snapshot history and signals.
type MarketDetail struct {
	Market
	History []PriceSnapshot
	Signals []Signal
}

// FeedStats summarizes the signal feed.
type FeedStats struct {
	TrackedMarkets   int64
	Signals24h       int64
	SignalsByKind    map[SignalKind]int64
	TopSignal        *Signal
	MostActiveMarket *MarketSummary
}

// SignalFeed is the read-only query surface over persisted markets and
// signals.
type SignalFeed interface {
	// ListSignals returns signals newest first.
	ListSignals(ctx context.Context, f SignalFilter) ([]Signal, error)
	// TopSignals returns the highest-scoring signals since the given time.
	TopSignals(ctx context.Context, since time.Time, limit int) ([]Signal, error)
	// ListMarketSummaries returns tracked markets by volume, descending, with
	// the number of signals raised since signalSince.
	ListMarketSummaries(ctx context.Context, signalSince time.Time, opts ListOpts) ([]MarketSummary, error)
	GetMarketDetail(ctx context.Context, id string, historySince time.Time, signalLimit int) (MarketDetail, error)
	Stats(ctx context.Context, now time.Time) (FeedStats, error)
}

// AuditEntry is a single audit log record.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}

// ArchiveCursor is a position in (timestamp, id) order. The zero value sorts
// before every row.
type ArchiveCursor struct {
	Timestamp time.Time
	ID        int64
}

// ArchiveSource pages through rows eligible for cold storage in (timestamp,
// id) order and keeps a per-kind cursor of what has been copied. Archived
// rows stay in the primary store.
type ArchiveSource interface {
	SnapshotsAfter(ctx context.Context, after ArchiveCursor, before time.Time, limit int) ([]PriceSnapshot, error)
	SignalsAfter(ctx context.Context, after ArchiveCursor, before time.Time, limit int) ([]Signal, error)
	Cursor(ctx context.Context, kind string) (ArchiveCursor, error)
	SetCursor(ctx context.Context, kind string, c ArchiveCursor) error
}
