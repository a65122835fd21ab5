package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
	"github.com/alanyoungcy/polygraph/internal/pipeline"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFeed struct {
	signals []domain.Signal
	err     error

	gotFilter    domain.SignalFilter
	gotSince     time.Time
	gotLimit     int
	gotOpts      domain.ListOpts
	gotHistory   time.Time
	gotSignalLim int
}

func (f *fakeFeed) ListSignals(_ context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	f.gotFilter = filter
	return f.signals, f.err
}

func (f *fakeFeed) TopSignals(_ context.Context, since time.Time, limit int) ([]domain.Signal, error) {
	f.gotSince, f.gotLimit = since, limit
	return f.signals, f.err
}

func (f *fakeFeed) ListMarketSummaries(_ context.Context, since time.Time, opts domain.ListOpts) ([]domain.MarketSummary, error) {
	f.gotSince, f.gotOpts = since, opts
	if f.err != nil {
		return nil, f.err
	}
	last := now.Add(-time.Hour)
	return []domain.MarketSummary{{
		Market:        domain.Market{ID: "501", Question: "Will it rain?", Volume: 125000, Tracked: true, Active: true},
		RecentSignals: 3,
		LastSignalAt:  &last,
	}}, nil
}

func (f *fakeFeed) GetMarketDetail(_ context.Context, id string, historySince time.Time, signalLimit int) (domain.MarketDetail, error) {
	f.gotHistory, f.gotSignalLim = historySince, signalLimit
	if f.err != nil {
		return domain.MarketDetail{}, f.err
	}
	if id != "501" {
		return domain.MarketDetail{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrNotFound)
	}
	return domain.MarketDetail{
		Market:  domain.Market{ID: "501", Question: "Will it rain?"},
		History: []domain.PriceSnapshot{{Timestamp: now, YesPrice: 0.62, NoPrice: 0.38, Volume: 1200, CumulativeVolume: 125000}},
		Signals: f.signals,
	}, nil
}

func (f *fakeFeed) Stats(context.Context, time.Time) (domain.FeedStats, error) {
	if f.err != nil {
		return domain.FeedStats{}, f.err
	}
	top := f.signals[0]
	return domain.FeedStats{
		TrackedMarkets: 12,
		Signals24h:     4,
		SignalsByKind:  map[domain.SignalKind]int64{domain.SignalVolumeSpike: 3, domain.SignalOrderbookImbalance: 1},
		TopSignal:      &top,
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSignals() []domain.Signal {
	return []domain.Signal{
		{
			ID: 7, MarketID: "501", Kind: domain.SignalOrderbookImbalance, Timestamp: now, Score: 61,
			Detail: domain.ImbalanceDetail{BidDepth: 6000, Ratio: math.Inf(1), Unbounded: true, Direction: "bid", Threshold: 3},
		},
		{
			ID: 6, MarketID: "501", Kind: domain.SignalVolumeSpike, Timestamp: now, Score: 44,
			Detail: domain.VolumeSpikeDetail{CurrentVolume: 12000, ZScore: 3.1, Threshold: 2.5, DataPoints: 12},
		},
	}
}

func newSignalHandler(feed *fakeFeed) *SignalHandler {
	h := NewSignalHandler(feed, testLogger())
	h.now = func() time.Time { return now }
	return h
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestListSignalsFilters(t *testing.T) {
	feed := &fakeFeed{signals: sampleSignals()}
	h := newSignalHandler(feed)

	req := httptest.NewRequest(http.MethodGet,
		"/api/signals?min_score=40&type=volume_spike&market_id=501&since=2026-03-01T00:00:00Z&limit=900&offset=5", nil)
	rec := httptest.NewRecorder()
	h.ListSignals(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	f := feed.gotFilter
	if f.MinScore != 40 || f.Kind != domain.SignalVolumeSpike || f.MarketID != "501" {
		t.Errorf("filter = %+v", f)
	}
	if f.Since == nil || !f.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) || f.Until != nil {
		t.Errorf("since/until = %v/%v", f.Since, f.Until)
	}
	if f.Limit != 500 || f.Offset != 5 {
		t.Errorf("limit/offset = %d/%d, want 500/5", f.Limit, f.Offset)
	}

	var body struct {
		Signals []map[string]any `json:"signals"`
	}
	decode(t, rec, &body)
	if len(body.Signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(body.Signals))
	}
	details := body.Signals[0]["details"].(map[string]any)
	if details["ratio"] != "infinite" {
		t.Errorf("unbounded ratio = %v, want \"infinite\"", details["ratio"])
	}
	if body.Signals[1]["signal_type"] != "volume_spike" {
		t.Errorf("signal_type = %v", body.Signals[1]["signal_type"])
	}
}

func TestListSignalsRejectsBadParams(t *testing.T) {
	for _, q := range []string{
		"min_score=abc",
		"min_score=101",
		"min_score=NaN",
		"type=whale",
		"since=yesterday",
		"until=2026-13-01",
	} {
		t.Run(q, func(t *testing.T) {
			feed := &fakeFeed{}
			rec := httptest.NewRecorder()
			newSignalHandler(feed).ListSignals(rec, httptest.NewRequest(http.MethodGet, "/api/signals?"+q, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListSignalsStoreError(t *testing.T) {
	rec := httptest.NewRecorder()
	newSignalHandler(&fakeFeed{err: errors.New("db down")}).
		ListSignals(rec, httptest.NewRequest(http.MethodGet, "/api/signals", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestTopSignalsWindow(t *testing.T) {
	feed := &fakeFeed{signals: sampleSignals()}
	rec := httptest.NewRecorder()
	newSignalHandler(feed).TopSignals(rec, httptest.NewRequest(http.MethodGet, "/api/signals/top?hours=6&limit=500", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if want := now.Add(-6 * time.Hour); !feed.gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", feed.gotSince, want)
	}
	if feed.gotLimit != 100 {
		t.Errorf("limit = %d, want capped 100", feed.gotLimit)
	}
}

func TestStats(t *testing.T) {
	feed := &fakeFeed{signals: sampleSignals()}
	rec := httptest.NewRecorder()
	newSignalHandler(feed).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var body statsResponse
	decode(t, rec, &body)
	if body.TrackedMarkets != 12 || body.Signals24h != 4 {
		t.Errorf("stats = %+v", body)
	}
	if body.SignalsByType[domain.SignalVolumeSpike] != 3 {
		t.Errorf("by type = %v", body.SignalsByType)
	}
	if body.TopSignal == nil || body.TopSignal.ID != 7 {
		t.Errorf("top signal = %+v", body.TopSignal)
	}
	if body.MostActiveMarket != nil {
		t.Errorf("most active = %+v, want null", body.MostActiveMarket)
	}
}

func TestListMarkets(t *testing.T) {
	feed := &fakeFeed{}
	h := NewMarketHandler(feed, testLogger())
	h.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	h.ListMarkets(rec, httptest.NewRequest(http.MethodGet, "/api/markets?hours=48&limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if want := now.Add(-48 * time.Hour); !feed.gotSince.Equal(want) {
		t.Errorf("signal window since = %v, want %v", feed.gotSince, want)
	}
	var body struct {
		Markets []struct {
			ID            string `json:"id"`
			RecentSignals int    `json:"recent_signals"`
			Tracked       bool   `json:"is_tracked"`
		} `json:"markets"`
		Limit int `json:"limit"`
	}
	decode(t, rec, &body)
	if len(body.Markets) != 1 || body.Markets[0].ID != "501" || body.Markets[0].RecentSignals != 3 || !body.Markets[0].Tracked {
		t.Errorf("markets = %+v", body.Markets)
	}
	if body.Limit != 10 {
		t.Errorf("limit = %d", body.Limit)
	}
}

func TestGetMarket(t *testing.T) {
	feed := &fakeFeed{signals: sampleSignals()}
	h := NewMarketHandler(feed, testLogger())
	h.now = func() time.Time { return now }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/501?signals=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if feed.gotSignalLim != 5 || !feed.gotHistory.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("detail args = %v/%d", feed.gotHistory, feed.gotSignalLim)
	}
	var body struct {
		ID      string         `json:"id"`
		History []snapshotView `json:"history"`
		Signals []any          `json:"signals"`
	}
	decode(t, rec, &body)
	if body.ID != "501" || len(body.History) != 1 || body.History[0].CumulativeVolume != 125000 || len(body.Signals) != 2 {
		t.Errorf("detail = %+v", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown market status = %d, want 404", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	decode(t, rec, &body)
	if body.Status != "degraded" || body.Dependencies["postgres"] != "ok" || body.Dependencies["redis"] != "down" {
		t.Errorf("body = %+v", body)
	}
}

type fixedStats pipeline.Stats

func (s fixedStats) Stats() pipeline.Stats { return pipeline.Stats(s) }

func TestStatus(t *testing.T) {
	h := NewStatusHandler("full", fixedStats{Running: true, CyclesCompleted: 9}, now)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body struct {
		Mode   string          `json:"mode"`
		Poller *pipeline.Stats `json:"poller"`
	}
	decode(t, rec, &body)
	if body.Mode != "full" || body.Poller == nil || body.Poller.CyclesCompleted != 9 || !body.Poller.Running {
		t.Errorf("status = %+v", body)
	}

	rec = httptest.NewRecorder()
	NewStatusHandler("server", nil, now).GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var bare map[string]any
	decode(t, rec, &bare)
	if _, ok := bare["poller"]; ok {
		t.Errorf("server-only status reports a poller: %v", bare)
	}
}

type fakeAudit struct {
	gotEvent string
	gotOpts  domain.ListOpts
}

func (a *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (a *fakeAudit) List(_ context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.gotEvent, a.gotOpts = event, opts
	return []domain.AuditEntry{{
		ID: 3, Event: "archive.signals", Detail: map[string]any{"count": 2.0}, CreatedAt: now,
	}}, nil
}

func TestAuditEntries(t *testing.T) {
	audit := &fakeAudit{}
	rec := httptest.NewRecorder()
	NewAuditHandler(audit, testLogger()).ListEntries(rec,
		httptest.NewRequest(http.MethodGet, "/api/audit?event=archive.signals&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if audit.gotEvent != "archive.signals" || audit.gotOpts.Limit != 5 {
		t.Errorf("List args = %q %+v", audit.gotEvent, audit.gotOpts)
	}
	var body struct {
		Entries []auditEntryView `json:"entries"`
	}
	decode(t, rec, &body)
	if len(body.Entries) != 1 || body.Entries[0].Detail["count"] != 2.0 {
		t.Errorf("entries = %+v", body.Entries)
	}
}
