package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// positionColumns is in domain.Position field order so rows can be scanned
// by position.
const positionColumns = `market_id, wallet, pubkey, yes_shares, no_shares, claimed,
	cost_basis, created_at, updated_at`

var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore keeps the position mirror. Share counts and the claimed flag
// come from the ledger; cost basis is written only through the sync API.
type PositionStore struct {
	pool *pgxpool.Pool
}

func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// UpsertFromLedger writes the ledger-owned columns and leaves cost_basis
// alone. Once claimed, a row stays claimed even if a stale snapshot says
// otherwise.
func (s *PositionStore) UpsertFromLedger(ctx context.Context, p domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions AS cur (market_id, wallet, pubkey, yes_shares, no_shares, claimed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, wallet) DO UPDATE SET
			pubkey     = EXCLUDED.pubkey,
			yes_shares = EXCLUDED.yes_shares,
			no_shares  = EXCLUDED.no_shares,
			claimed    = cur.claimed OR EXCLUDED.claimed,
			updated_at = NOW()`,
		p.MarketID, p.Wallet, p.Pubkey, p.YesShares, p.NoShares, p.Claimed,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %d/%s: %w", p.MarketID, p.Wallet, err)
	}
	return nil
}

// ApplyCostBasisDelta moves cost_basis by delta without going below zero.
// A position the mirror has not seen yet is ErrNotFound.
func (s *PositionStore) ApplyCostBasisDelta(ctx context.Context, marketID uint64, wallet string, delta int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions
		SET cost_basis = GREATEST(0, cost_basis + $3), updated_at = NOW()
		WHERE market_id = $1 AND wallet = $2`,
		marketID, wallet, delta,
	)
	switch {
	case err != nil:
		return fmt.Errorf("postgres: apply cost basis %d/%s: %w", marketID, wallet, err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("position %d/%s: %w", marketID, wallet, domain.ErrNotFound)
	}
	return nil
}

func (s *PositionStore) Get(ctx context.Context, marketID uint64, wallet string) (domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 AND wallet = $2`,
		marketID, wallet,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %d/%s: %w", marketID, wallet, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[domain.Position])
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Position{}, fmt.Errorf("position %d/%s: %w", marketID, wallet, domain.ErrNotFound)
	case err != nil:
		return domain.Position{}, fmt.Errorf("postgres: get position %d/%s: %w", marketID, wallet, err)
	}
	return p, nil
}
