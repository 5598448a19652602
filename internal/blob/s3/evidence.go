package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// Evidence implements domain.EvidenceStore. Snapshots are stored under
//
//	evidence/{market_id}/{unix}-{uuid}{ext}
//
// so a market's attempts list in chronological order.
type Evidence struct {
	blobs domain.BlobStore
}

// NewEvidence creates an Evidence store in blobs.
func NewEvidence(blobs domain.BlobStore) *Evidence {
	return &Evidence{blobs: blobs}
}

func evidencePrefix(marketID uint64) string {
	return "evidence/" + strconv.FormatUint(marketID, 10) + "/"
}

// Save uploads one raw source snapshot and returns its object key.
func (e *Evidence) Save(ctx context.Context, marketID uint64, raw []byte, contentType string, at time.Time) (string, error) {
	key := fmt.Sprintf("%s%d-%s%s", evidencePrefix(marketID), at.Unix(), uuid.NewString(), extensionFor(contentType))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := e.blobs.Put(ctx, key, bytes.NewReader(raw), contentType); err != nil {
		return "", fmt.Errorf("s3blob: save evidence for market %d: %w", marketID, err)
	}
	return key, nil
}

// List returns the snapshots stored for a market, oldest first.
func (e *Evidence) List(ctx context.Context, marketID uint64) ([]domain.BlobInfo, error) {
	infos, err := e.blobs.List(ctx, evidencePrefix(marketID))
	if err != nil {
		return nil, fmt.Errorf("s3blob: list evidence for market %d: %w", marketID, err)
	}
	for i := range infos {
		if infos[i].ContentType == "" {
			infos[i].ContentType = contentTypeFor(path.Ext(infos[i].Path))
		}
	}
	return infos, nil
}

// Open streams one snapshot by its file name. Names containing path
// separators are rejected with domain.ErrValidation.
func (e *Evidence) Open(ctx context.Context, marketID uint64, name string) (io.ReadCloser, error) {
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("s3blob: open evidence %q: %w", name, domain.ErrValidation)
	}
	return e.blobs.Get(ctx, evidencePrefix(marketID)+name)
}

// extensionFor maps the fetched content type onto a file extension.
func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return ".html"
	case strings.Contains(ct, "json"):
		return ".json"
	case strings.HasPrefix(ct, "text/"):
		return ".txt"
	default:
		return ".bin"
	}
}

// contentTypeFor reverses extensionFor for listings.
func contentTypeFor(ext string) string {
	switch ext {
	case ".html":
		return "text/html"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

var _ domain.EvidenceStore = (*Evidence)(nil)
