package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	feed   domain.SignalFeed
	now    func() time.Time
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler backed by feed.
func NewMarketHandler(feed domain.SignalFeed, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{feed: feed, now: time.Now, logger: logger}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketSummaryView `json:"markets"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns tracked markets by volume with their recent signal
// counts.
// GET /api/markets?hours=24&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	window, err := parseHours(r, "hours", 24, 24*30)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := parseListOpts(r)

	summaries, err := h.feed.ListMarketSummaries(r.Context(), h.now().UTC().Add(-window), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	views := make([]marketSummaryView, len(summaries))
	for i, s := range summaries {
		views[i] = newMarketSummaryView(s)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type marketDetailResponse struct {
	marketView
	History []snapshotView `json:"history"`
	Signals []signalView   `json:"signals"`
}

// GetMarket returns a single market with its recent snapshot history and
// signals.
// GET /api/markets/{id}?hours=24&signals=20
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	window, err := parseHours(r, "hours", 24, 24*7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signalLimit, err := parseInt(r, "signals", 20)
	if err != nil || signalLimit <= 0 {
		writeError(w, http.StatusBadRequest, "signals must be a positive integer")
		return
	}
	signalLimit = min(signalLimit, 200)

	detail, err := h.feed.GetMarketDetail(r.Context(), id, h.now().UTC().Add(-window), signalLimit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	history := make([]snapshotView, len(detail.History))
	for i, s := range detail.History {
		history[i] = snapshotView{
			Timestamp:        s.Timestamp,
			YesPrice:         s.YesPrice,
			NoPrice:          s.NoPrice,
			Volume:           s.Volume,
			CumulativeVolume: s.CumulativeVolume,
			BidDepth:         s.BidDepth,
			AskDepth:         s.AskDepth,
		}
	}
	writeJSON(w, http.StatusOK, marketDetailResponse{
		marketView: newMarketView(detail.Market),
		History:    history,
		Signals:    newSignalViews(detail.Signals),
	})
}
