package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object. Path is relative to the deployment prefix;
// ContentType is filled in where the key implies it.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores immutable objects. PutMultipart is for bodies large
// enough to need the transfer manager.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads objects back. Get on a missing path fails with
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobStore is a bucket the settler can both write and read.
type BlobStore interface {
	BlobWriter
	BlobReader
}

// Archiver exports monthly resolution log files to cold storage. Source
// rows stay in the database.
type Archiver interface {
	ArchiveResolutionLogs(ctx context.Context, before time.Time) (int64, error)
}

// EvidenceStore keeps the raw source snapshot behind each resolution
// attempt, keyed by market.
type EvidenceStore interface {
	Save(ctx context.Context, marketID uint64, raw []byte, contentType string, at time.Time) (string, error)
	List(ctx context.Context, marketID uint64) ([]BlobInfo, error)
	Open(ctx context.Context, marketID uint64, name string) (io.ReadCloser, error)
}
