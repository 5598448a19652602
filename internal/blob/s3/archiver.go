package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// ResolutionLogArchiveStore provides read access to resolution logs for
// archival purposes.
type ResolutionLogArchiveStore interface {
	// ListBefore returns all logs attempted strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.ResolutionLog, error)
}

// archiveRecord is the JSONL shape of one exported resolution log.
type archiveRecord struct {
	ID           int64     `json:"id"`
	MarketID     uint64    `json:"market_id"`
	SourceURL    string    `json:"source_url"`
	SourceText   string    `json:"source_text"`
	AIReasoning  string    `json:"ai_reasoning"`
	AIDecision   string    `json:"ai_decision"`
	Confidence   float64   `json:"confidence"`
	TxSignature  *string   `json:"tx_signature"`
	ErrorMessage *string   `json:"error_message"`
	EvidencePath *string   `json:"evidence_path"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

func toArchiveRecord(l domain.ResolutionLog) archiveRecord {
	return archiveRecord{
		ID:           l.ID,
		MarketID:     l.MarketID,
		SourceURL:    l.SourceURL,
		SourceText:   l.SourceText,
		AIReasoning:  l.AIReasoning,
		AIDecision:   string(l.AIDecision),
		Confidence:   l.Confidence,
		TxSignature:  l.TxSignature,
		ErrorMessage: l.ErrorMessage,
		EvidencePath: l.EvidencePath,
		AttemptedAt:  l.AttemptedAt.UTC(),
	}
}

// ArchiveImpl implements domain.Archiver by querying the resolution log
// store for old rows, serializing them to JSONL, and uploading one object
// per calendar month.
//
// Rows are never deleted from the primary store. Only months that ended
// before the cutoff are exported, and a month whose object already exists
// is skipped, so the export of a month is written once and never changes.
type ArchiveImpl struct {
	blobs    domain.BlobStore
	logs     ResolutionLogArchiveStore
	audit    domain.AuditStore
	partSize int64
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(blobs domain.BlobStore, logs ResolutionLogArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		blobs:    blobs,
		logs:     logs,
		audit:    audit,
		partSize: minPartSize,
	}
}

// ArchiveResolutionLogs exports every complete month of resolution logs
// before the cutoff to archive/resolution_logs/YYYY-MM.jsonl. Each upload is
// recorded in the audit log. It returns the number of rows exported by this
// call.
func (a *ArchiveImpl) ArchiveResolutionLogs(ctx context.Context, before time.Time) (int64, error) {
	logs, err := a.logs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive resolution logs query: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	months := groupByMonth(logs)
	keys := make([]time.Time, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	var total int64
	for _, month := range keys {
		// The month is still receiving rows.
		if month.AddDate(0, 1, 0).After(before) {
			continue
		}

		path := archivePath("resolution_logs", month)
		exists, err := a.blobs.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive resolution logs exists: %w", err)
		}
		if exists {
			continue
		}

		rows := months[month]
		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive resolution logs marshal: %w", err)
		}

		if int64(len(buf)) > a.partSize {
			err = a.blobs.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSize)
		} else {
			err = a.blobs.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive resolution logs upload: %w", err)
		}

		count := int64(len(rows))
		total += count

		if err := a.audit.Log(ctx, "archive.resolution_logs", map[string]any{
			"path":   path,
			"count":  count,
			"month":  month.Format("2006-01"),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive resolution logs audit log: %w", err)
		}
	}

	return total, nil
}

// groupByMonth buckets logs by the UTC calendar month of attempted_at,
// keeping the store's order within each bucket.
func groupByMonth(logs []domain.ResolutionLog) map[time.Time][]archiveRecord {
	out := make(map[time.Time][]archiveRecord)
	for _, l := range logs {
		at := l.AttemptedAt.UTC()
		month := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		out[month] = append(out[month], toArchiveRecord(l))
	}
	return out
}

// archivePath builds the S3 key for an archive file, partitioned by
// year-month.
//
//	archive/resolution_logs/2026-01.jsonl
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
