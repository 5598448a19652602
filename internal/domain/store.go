package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists the mirrored market rows.
type MarketStore interface {
	// UpsertFromLedger inserts a full row or refreshes the ledger-owned AMM
	// and fee columns of an existing one. Lifecycle columns of an existing
	// row are left untouched.
	UpsertFromLedger(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	// ListDue returns open markets whose deadline is at or before now,
	// earliest deadline first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Market, error)
	// MarkResolved and MarkVoided only transition rows that are still open.
	// The returned bool is false when no row changed.
	MarkResolved(ctx context.Context, id uint64, outcome Outcome, reasoning string, resolvedAt int64) (bool, error)
	MarkVoided(ctx context.Context, id uint64, reasoning string) (bool, error)
}

// PositionStore persists mirrored positions keyed by (market, wallet).
type PositionStore interface {
	UpsertFromLedger(ctx context.Context, p Position) error
	// ApplyCostBasisDelta sets cost_basis = max(0, cost_basis + delta).
	ApplyCostBasisDelta(ctx context.Context, marketID uint64, wallet string, delta int64) error
	Get(ctx context.Context, marketID uint64, wallet string) (Position, error)
}

// ResolutionLogStore persists the append-only resolution audit trail.
type ResolutionLogStore interface {
	Append(ctx context.Context, log ResolutionLog) (int64, error)
	// BackfillSignature sets tx_signature on the newest row for the market
	// that does not have one yet.
	BackfillSignature(ctx context.Context, marketID uint64, signature string) error
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]ResolutionLog, error)
	AttemptStats(ctx context.Context, marketID uint64) (AttemptStats, error)
	ListBefore(ctx context.Context, before time.Time) ([]ResolutionLog, error)
}

// AuditEntry is one row of the operational audit log: archive runs, manual
// sweep triggers and stuck-market alerts.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries whose event starts with eventPrefix ("" for all),
	// newest first.
	List(ctx context.Context, eventPrefix string, opts ListOpts) ([]AuditEntry, error)
}
