package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobChecker reports whether an object exists.
type BlobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies old data from the database to cold storage. Each call
// returns the number of rows newly archived; rows are never removed.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error)
	ArchiveSignals(ctx context.Context, before time.Time) (int64, error)
}
