package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
	"github.com/alanyoungcy/polygraph/internal/store"
)

// Seeder registers the current top markets as tracked.
type Seeder struct {
	store  domain.Store
	source domain.MarketDataSource
	order  string
	now    func() time.Time
	logger *slog.Logger
}

// NewSeeder creates a Seeder that ranks markets by order.
func NewSeeder(s domain.Store, source domain.MarketDataSource, order string, logger *slog.Logger) *Seeder {
	return &Seeder{
		store:  s,
		source: source,
		order:  order,
		now:    time.Now,
		logger: logger.With(slog.String("component", "seeder")),
	}
}

// Seed fetches the top n markets and tracks every active one. A market seen
// for the first time also gets an initial snapshot with zero period volume,
// so its first poll cycle has a cumulative baseline. It returns the number of
// markets registered or refreshed.
func (s *Seeder) Seed(ctx context.Context, n int) (int, error) {
	states, err := s.source.Fetch(ctx, n, s.order)
	if err != nil {
		return 0, fmt.Errorf("pipeline: seed fetch: %w", err)
	}
	ts := s.now().UTC().Truncate(time.Microsecond)

	seeded := 0
	err = store.InTx(ctx, s.store, func(tx domain.Tx) error {
		for _, st := range states {
			if st.ID == "" || !st.Active {
				continue
			}
			err := store.InTx(ctx, tx, func(sp domain.Tx) error {
				return s.seedMarket(ctx, sp, st, ts)
			})
			if err != nil {
				s.logger.Warn("seed market failed",
					slog.String("market_id", st.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			seeded++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pipeline: seed commit: %w", err)
	}

	s.logger.Info("seed complete",
		slog.Int("fetched", len(states)),
		slog.Int("seeded", seeded),
	)
	return seeded, nil
}

func (s *Seeder) seedMarket(ctx context.Context, tx domain.Tx, st domain.MarketState, ts time.Time) error {
	_, err := tx.GetMarket(ctx, st.ID)
	isNew := errors.Is(err, domain.ErrNotFound)
	if err != nil && !isNew {
		return fmt.Errorf("load market: %w", err)
	}

	m := marketFromState(st)
	m.YesPrice = parsePrice(st.Prices, 0, 0)
	m.NoPrice = parsePrice(st.Prices, 1, 0)
	if m.Volume, err = parseAmount(st.Volume); err != nil {
		return fmt.Errorf("volume: %w", err)
	}
	if m.Liquidity, err = parseAmount(st.Liquidity); err != nil {
		return fmt.Errorf("liquidity: %w", err)
	}
	if err := tx.UpsertMarket(ctx, m); err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	if !isNew {
		return nil
	}

	_, err = tx.InsertSnapshot(ctx, domain.PriceSnapshot{
		MarketID:         m.ID,
		Timestamp:        ts,
		YesPrice:         m.YesPrice,
		NoPrice:          m.NoPrice,
		CumulativeVolume: m.Volume,
	})
	if err != nil {
		return fmt.Errorf("insert initial snapshot: %w", err)
	}
	return nil
}
