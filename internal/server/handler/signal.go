package handler

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// SignalHandler serves the read-only signal feed.
type SignalHandler struct {
	feed   domain.SignalFeed
	now    func() time.Time
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler backed by feed.
func NewSignalHandler(feed domain.SignalFeed, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{feed: feed, now: time.Now, logger: logger}
}

type listSignalsResponse struct {
	Signals []signalView `json:"signals"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListSignals returns signals newest first.
// GET /api/signals?min_score=50&type=volume_spike&market_id=...&since=...&until=...&limit=50&offset=0
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.SignalFilter{
		MarketID: q.Get("market_id"),
		ListOpts: parseListOpts(r),
	}

	if v := q.Get("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(score) || score < 0 || score > 100 {
			writeError(w, http.StatusBadRequest, "min_score must be a number between 0 and 100")
			return
		}
		f.MinScore = score
	}
	if v := q.Get("type"); v != "" {
		kind := domain.SignalKind(v)
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "unknown signal type "+strconv.Quote(v))
			return
		}
		f.Kind = kind
	}

	var err error
	if f.Since, err = parseTime(r, "since"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Until, err = parseTime(r, "until"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	signals, err := h.feed.ListSignals(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list signals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}

	writeJSON(w, http.StatusOK, listSignalsResponse{
		Signals: newSignalViews(signals),
		Limit:   f.Limit,
		Offset:  f.Offset,
	})
}

// TopSignals returns the highest-scoring signals of the last hours.
// GET /api/signals/top?hours=24&limit=10
func (h *SignalHandler) TopSignals(w http.ResponseWriter, r *http.Request) {
	window, err := parseHours(r, "hours", 24, 24*30)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseInt(r, "limit", 10)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, 100)

	signals, err := h.feed.TopSignals(r.Context(), h.now().UTC().Add(-window), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: top signals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load top signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": newSignalViews(signals)})
}

type statsResponse struct {
	TrackedMarkets   int64                       `json:"tracked_markets"`
	Signals24h       int64                       `json:"signals_24h"`
	SignalsByType    map[domain.SignalKind]int64 `json:"signals_by_type"`
	TopSignal        *signalView                 `json:"top_signal"`
	MostActiveMarket *marketSummaryView          `json:"most_active_market"`
}

// Stats summarizes the feed.
// GET /api/stats
func (h *SignalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.feed.Stats(r.Context(), h.now().UTC())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: feed stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	resp := statsResponse{
		TrackedMarkets: st.TrackedMarkets,
		Signals24h:     st.Signals24h,
		SignalsByType:  st.SignalsByKind,
	}
	if st.TopSignal != nil {
		v := newSignalView(*st.TopSignal)
		resp.TopSignal = &v
	}
	if st.MostActiveMarket != nil {
		v := newMarketSummaryView(*st.MostActiveMarket)
		resp.MostActiveMarket = &v
	}
	writeJSON(w, http.StatusOK, resp)
}
