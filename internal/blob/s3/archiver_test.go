package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

type fakeSource struct {
	snaps   []domain.PriceSnapshot
	signals []domain.Signal
	cursors map[string]domain.ArchiveCursor
}

func newFakeSource() *fakeSource {
	return &fakeSource{cursors: map[string]domain.ArchiveCursor{}}
}

func after(ts time.Time, id int64, c domain.ArchiveCursor) bool {
	if ts.Equal(c.Timestamp) {
		return id > c.ID
	}
	return ts.After(c.Timestamp)
}

func (f *fakeSource) SnapshotsAfter(_ context.Context, c domain.ArchiveCursor, before time.Time, limit int) ([]domain.PriceSnapshot, error) {
	var out []domain.PriceSnapshot
	for _, s := range f.snaps {
		if s.Timestamp.Before(before) && after(s.Timestamp, s.ID, c) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSource) SignalsAfter(_ context.Context, c domain.ArchiveCursor, before time.Time, limit int) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, s := range f.signals {
		if s.Timestamp.Before(before) && after(s.Timestamp, s.ID, c) && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSource) Cursor(_ context.Context, kind string) (domain.ArchiveCursor, error) {
	return f.cursors[kind], nil
}

func (f *fakeSource) SetCursor(_ context.Context, kind string, c domain.ArchiveCursor) error {
	f.cursors[kind] = c
	return nil
}

type fakeWriter struct {
	objects map[string][]byte
	fail    error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.fail != nil {
		return w.fail
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, jsonlContentType)
}

func (w *fakeWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

type fakeAudit struct{ events []string }

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var cutoff = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestArchiveSnapshotsBatches(t *testing.T) {
	src := newFakeSource()
	for i := 1; i <= 5; i++ {
		src.snaps = append(src.snaps, domain.PriceSnapshot{
			ID: int64(i), MarketID: "m1", Timestamp: cutoff.Add(-time.Duration(i) * time.Hour), YesPrice: 0.5,
		})
	}
	// One row newer than the cutoff is not archived yet.
	src.snaps = append(src.snaps, domain.PriceSnapshot{ID: 6, MarketID: "m1", Timestamp: cutoff.Add(time.Hour)})

	w := &fakeWriter{objects: map[string][]byte{}}
	audit := &fakeAudit{}
	a := NewArchiver(src, w, w, audit)
	a.batchSize = 2
	a.now = func() time.Time { return cutoff.Add(3 * time.Hour) }

	n, err := a.ArchiveSnapshots(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveSnapshots() error = %v", err)
	}
	if n != 5 {
		t.Errorf("archived = %d, want 5", n)
	}
	if len(src.snaps) != 6 {
		t.Errorf("rows = %d, want all 6 kept in the store", len(src.snaps))
	}
	if c := src.cursors["snapshots"]; c.ID != 1 || !c.Timestamp.Equal(cutoff.Add(-time.Hour)) {
		t.Errorf("cursor = %+v, want the newest archived row", c)
	}
	if len(w.objects) != 3 {
		t.Errorf("objects = %d, want 3 batches", len(w.objects))
	}
	body, ok := w.objects["archive/snapshots/2026-03/20260301T030000Z-0001.jsonl"]
	if !ok {
		t.Fatalf("first batch missing; have %v", keys(w.objects))
	}
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("first batch has %d lines, want 2", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatal(err)
	}
	if rec["market_id"] != "m1" || rec["yes_price"] != 0.5 {
		t.Errorf("record = %v", rec)
	}
	if len(audit.events) != 3 || audit.events[0] != "archive.snapshots" {
		t.Errorf("audit events = %v", audit.events)
	}
}

func TestArchiveSignalsKeepsDetail(t *testing.T) {
	src := newFakeSource()
	src.signals = []domain.Signal{{
		ID: 1, MarketID: "m1", Kind: domain.SignalOrderbookImbalance, Timestamp: cutoff.Add(-time.Hour),
		Score: 55, Detail: domain.ImbalanceDetail{BidDepth: 100, Unbounded: true, Direction: "bid", Threshold: 3},
	}}
	w := &fakeWriter{objects: map[string][]byte{}}
	a := NewArchiver(src, w, nil, nil)

	n, err := a.ArchiveSignals(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveSignals() error = %v", err)
	}
	if n != 1 {
		t.Errorf("archived = %d, want 1", n)
	}
	for _, body := range w.objects {
		if !strings.Contains(string(body), `"ratio":"infinite"`) {
			t.Errorf("archived signal = %s, want infinite ratio", body)
		}
	}
	if len(src.signals) != 1 {
		t.Errorf("signals = %d, want the archived signal kept", len(src.signals))
	}
}

func TestArchiveUploadFailureKeepsCursor(t *testing.T) {
	src := newFakeSource()
	src.snaps = []domain.PriceSnapshot{{ID: 1, MarketID: "m1", Timestamp: cutoff.Add(-time.Hour)}}
	boom := errors.New("boom")
	w := &fakeWriter{objects: map[string][]byte{}, fail: boom}

	_, err := NewArchiver(src, w, w, nil).ArchiveSnapshots(context.Background(), cutoff)
	if !errors.Is(err, boom) {
		t.Fatalf("ArchiveSnapshots() error = %v, want boom", err)
	}
	if c, ok := src.cursors["snapshots"]; ok {
		t.Errorf("cursor advanced to %+v after failed upload", c)
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	w := &fakeWriter{objects: map[string][]byte{}}
	n, err := NewArchiver(newFakeSource(), w, w, nil).ArchiveSnapshots(context.Background(), cutoff)
	if err != nil || n != 0 || len(w.objects) != 0 {
		t.Errorf("ArchiveSnapshots() = %d, %v with %d objects", n, err, len(w.objects))
	}
}

func TestArchiveRunsAreIncremental(t *testing.T) {
	src := newFakeSource()
	src.signals = []domain.Signal{
		{ID: 7, MarketID: "m1", Kind: domain.SignalVolumeSpike, Timestamp: cutoff.Add(-2 * time.Hour), Score: 40, Detail: domain.VolumeSpikeDetail{}},
	}
	w := &fakeWriter{objects: map[string][]byte{}}
	a := NewArchiver(src, w, w, nil)
	a.now = func() time.Time { return cutoff }

	if n, err := a.ArchiveSignals(context.Background(), cutoff); err != nil || n != 1 {
		t.Fatalf("first ArchiveSignals() = %d, %v; want 1", n, err)
	}

	// A later signal ages out; the next run copies only that one.
	src.signals = append(src.signals, domain.Signal{
		ID: 9, MarketID: "m1", Kind: domain.SignalVolumeSpike, Timestamp: cutoff.Add(time.Hour), Score: 50, Detail: domain.VolumeSpikeDetail{},
	})
	a.now = func() time.Time { return cutoff.Add(24 * time.Hour) }
	n, err := a.ArchiveSignals(context.Background(), cutoff.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("second ArchiveSignals() = %d, %v; want 1", n, err)
	}
	if len(src.signals) != 2 {
		t.Errorf("signals = %d, want both kept", len(src.signals))
	}
	if c := src.cursors["signals"]; c.ID != 9 {
		t.Errorf("cursor = %+v, want id 9", c)
	}
	if len(w.objects) != 2 {
		t.Errorf("objects = %d, want one per run", len(w.objects))
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"e2.example.com", true, "https://e2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
