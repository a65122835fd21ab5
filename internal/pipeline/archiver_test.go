package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBlobArchiver struct {
	calls  []string
	cutoff time.Time
	err    error
}

func (f *fakeBlobArchiver) ArchiveSnapshots(_ context.Context, before time.Time) (int64, error) {
	f.calls = append(f.calls, "snapshots")
	f.cutoff = before
	return 10, f.err
}

func (f *fakeBlobArchiver) ArchiveSignals(_ context.Context, before time.Time) (int64, error) {
	f.calls = append(f.calls, "signals")
	f.cutoff = before
	return 2, f.err
}

func TestArchiverRunUsesRetention(t *testing.T) {
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, 90, discardLogger())
	a.now = func() time.Time { return t0 }

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := t0.Add(-90 * 24 * time.Hour); !blob.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", blob.cutoff, want)
	}
	if len(blob.calls) != 2 || blob.calls[0] != "signals" || blob.calls[1] != "snapshots" {
		t.Errorf("calls = %v, want signals then snapshots", blob.calls)
	}
}

func TestArchiverRunStopsOnError(t *testing.T) {
	blob := &fakeBlobArchiver{err: errors.New("s3 down")}
	if err := NewArchiver(blob, 30, discardLogger()).Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want failure")
	}
	if len(blob.calls) != 1 {
		t.Errorf("calls = %v, want to stop after signals", blob.calls)
	}
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC) // a Saturday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)},
		{"30 9-17 * * 1-5", time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)},
		{"0,45 10 * * *", time.Date(2026, 3, 14, 10, 45, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, after)
			if err != nil {
				t.Fatalf("nextCronTime() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("nextCronTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateCron(t *testing.T) {
	for _, expr := range []string{"0 3 *", "61 * * * *", "* * * 13 *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		if err := ValidateCron(expr); err == nil {
			t.Errorf("ValidateCron(%q) = nil, want error", expr)
		}
	}
	if err := ValidateCron("0 3 1 * *"); err != nil {
		t.Errorf("ValidateCron(default) = %v", err)
	}
}
