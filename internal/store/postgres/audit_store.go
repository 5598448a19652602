package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditStore writes the audit_log table. Detail maps travel as JSONB through
// pgx's JSON codec.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore returns an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry. A nil detail is stored as SQL NULL.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if strings.TrimSpace(event) == "" {
		return fmt.Errorf("postgres: audit event: %w: empty name", domain.ErrValidation)
	}
	var arg any
	if detail != nil {
		arg = detail
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, arg,
	); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List pages through entries matching eventPrefix, newest first.
func (s *AuditStore) List(ctx context.Context, eventPrefix string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	base := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if eventPrefix != "" {
		base += ` AND starts_with(event, $1)`
		args = append(args, eventPrefix)
	}
	query, args := appendListOpts(base, args, opts, "created_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		err := row.Scan(&e.ID, &e.Event, &e.Detail, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit: %w", err)
	}
	return entries, nil
}
