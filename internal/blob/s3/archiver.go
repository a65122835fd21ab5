package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// defaultBatchSize bounds how many rows one archive object holds.
	defaultBatchSize = 5000
)

// ArchiveImpl implements domain.Archiver. Rows older than the cutoff are read
// in batches past the stored cursor, written to one JSONL object per batch,
// and checked with a HeadObject before the cursor advances. Rows are copied,
// never deleted.
type ArchiveImpl struct {
	source    domain.ArchiveSource
	writer    domain.BlobWriter
	checker   domain.BlobChecker
	audit     domain.AuditStore
	batchSize int
	now       func() time.Time
}

// NewArchiver creates an ArchiveImpl. checker may be nil, in which case
// uploads are trusted without a follow-up HeadObject.
func NewArchiver(source domain.ArchiveSource, writer domain.BlobWriter, checker domain.BlobChecker, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		source:    source,
		writer:    writer,
		checker:   checker,
		audit:     audit,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

type snapshotRecord struct {
	ID               int64     `json:"id"`
	MarketID         string    `json:"market_id"`
	Timestamp        time.Time `json:"timestamp"`
	YesPrice         float64   `json:"yes_price"`
	NoPrice          float64   `json:"no_price"`
	Volume           float64   `json:"volume"`
	CumulativeVolume float64   `json:"cumulative_volume"`
	BidDepth         float64   `json:"bid_depth"`
	AskDepth         float64   `json:"ask_depth"`
}

type signalRecord struct {
	ID             int64             `json:"id"`
	MarketID       string            `json:"market_id"`
	Kind           domain.SignalKind `json:"signal_type"`
	Timestamp      time.Time         `json:"timestamp"`
	Score          float64           `json:"score"`
	Detail         json.RawMessage   `json:"details"`
	PriceAtSignal  float64           `json:"price_at_signal"`
	VolumeAtSignal float64           `json:"volume_at_signal"`
	Acknowledged   bool              `json:"is_acknowledged"`
	Published      bool              `json:"is_published"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ArchiveSnapshots copies price snapshots older than before to
// archive/snapshots/.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	return archiveBatches(ctx, a, "snapshots", before,
		func(ctx context.Context, after domain.ArchiveCursor) ([]snapshotRecord, domain.ArchiveCursor, error) {
			rows, err := a.source.SnapshotsAfter(ctx, after, before, a.batchSize)
			if err != nil || len(rows) == 0 {
				return nil, after, err
			}
			recs := make([]snapshotRecord, len(rows))
			for i, s := range rows {
				recs[i] = snapshotRecord(s)
			}
			last := rows[len(rows)-1]
			return recs, domain.ArchiveCursor{Timestamp: last.Timestamp, ID: last.ID}, nil
		},
	)
}

// ArchiveSignals copies signals older than before to archive/signals/.
func (a *ArchiveImpl) ArchiveSignals(ctx context.Context, before time.Time) (int64, error) {
	return archiveBatches(ctx, a, "signals", before,
		func(ctx context.Context, after domain.ArchiveCursor) ([]signalRecord, domain.ArchiveCursor, error) {
			rows, err := a.source.SignalsAfter(ctx, after, before, a.batchSize)
			if err != nil || len(rows) == 0 {
				return nil, after, err
			}
			recs := make([]signalRecord, len(rows))
			for i, s := range rows {
				detail, err := json.Marshal(s.Detail)
				if err != nil {
					return nil, after, fmt.Errorf("encode signal %d detail: %w", s.ID, err)
				}
				recs[i] = signalRecord{
					ID:             s.ID,
					MarketID:       s.MarketID,
					Kind:           s.Kind,
					Timestamp:      s.Timestamp,
					Score:          s.Score,
					Detail:         detail,
					PriceAtSignal:  s.PriceAtSignal,
					VolumeAtSignal: s.VolumeAtSignal,
					Acknowledged:   s.Acknowledged,
					Published:      s.Published,
					CreatedAt:      s.CreatedAt,
				}
			}
			last := rows[len(rows)-1]
			return recs, domain.ArchiveCursor{Timestamp: last.Timestamp, ID: last.ID}, nil
		},
	)
}

// archiveBatches copies rows past the stored cursor one batch at a time until
// a batch comes back short. The cursor only advances after the batch's object
// is verified, so a failed run is retried from the same position.
func archiveBatches[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	before time.Time,
	next func(context.Context, domain.ArchiveCursor) ([]T, domain.ArchiveCursor, error),
) (int64, error) {
	runAt := a.now().UTC()
	var total int64

	cursor, err := a.source.Cursor(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s cursor: %w", kind, err)
	}

	for batch := 1; ; batch++ {
		recs, last, err := next(ctx, cursor)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(recs)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		path := archivePath(kind, before, runAt, batch)
		if err := upload(ctx, a.writer, path, buf); err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		if a.checker != nil {
			ok, err := a.checker.Exists(ctx, path)
			if err != nil {
				return total, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
			}
			if !ok {
				return total, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
			}
		}

		if err := a.source.SetCursor(ctx, kind, last); err != nil {
			return total, fmt.Errorf("s3blob: archive %s advance cursor: %w", kind, err)
		}
		cursor = last
		total += int64(len(recs))

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
				"path":    path,
				"count":   len(recs),
				"last_id": last.ID,
				"before":  before.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
			}
		}

		if len(recs) < a.batchSize {
			return total, nil
		}
	}
}

// archivePath builds the object key for one archive batch, partitioned by
// the cutoff month:
//
//	archive/snapshots/2026-01/20260301T030000Z-0001.jsonl
func archivePath(kind string, before, runAt time.Time, batch int) string {
	return fmt.Sprintf("archive/%s/%s/%s-%04d.jsonl",
		kind, before.UTC().Format("2006-01"), runAt.Format("20060102T150405Z"), batch)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
