package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `market_id, pubkey, creator, question, resolution_source,
	resolution_timestamp, yes_reserve, no_reserve, total_minted,
	initial_liquidity, swap_fee_bps, treasury_fee, creator_fee, status,
	outcome, resolved_at, ai_reasoning, creator_fee_claimed,
	treasury_fee_claimed, created_at, updated_at`

// UpsertFromLedger inserts the full row for a new market. For an existing
// row only the AMM and fee columns are refreshed; lifecycle columns belong
// to the resolution sweeper.
func (s *MarketStore) UpsertFromLedger(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			market_id, pubkey, creator, question, resolution_source,
			resolution_timestamp, yes_reserve, no_reserve, total_minted,
			initial_liquidity, swap_fee_bps, treasury_fee, creator_fee,
			status, outcome, resolved_at, ai_reasoning,
			creator_fee_claimed, treasury_fee_claimed, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, NOW()
		)
		ON CONFLICT (market_id) DO UPDATE SET
			yes_reserve          = EXCLUDED.yes_reserve,
			no_reserve           = EXCLUDED.no_reserve,
			total_minted         = EXCLUDED.total_minted,
			initial_liquidity    = EXCLUDED.initial_liquidity,
			swap_fee_bps         = EXCLUDED.swap_fee_bps,
			treasury_fee         = EXCLUDED.treasury_fee,
			creator_fee          = EXCLUDED.creator_fee,
			creator_fee_claimed  = markets.creator_fee_claimed OR EXCLUDED.creator_fee_claimed,
			treasury_fee_claimed = markets.treasury_fee_claimed OR EXCLUDED.treasury_fee_claimed,
			updated_at           = NOW()`

	status := m.Status
	if status == "" {
		status = domain.MarketStatusOpen
	}
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Pubkey, m.Creator, m.Question, m.ResolutionSource,
		m.ResolutionTimestamp, m.YesReserve, m.NoReserve, m.TotalMinted,
		m.InitialLiquidity, m.SwapFeeBps, m.TreasuryFee, m.CreatorFee,
		string(status), outcomeParam(status, m.Outcome), m.ResolvedAt, m.AIReasoning,
		m.CreatorFeeClaimed, m.TreasuryFeeClaimed,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its ledger id.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE market_id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListDue returns open markets whose deadline has passed, earliest first.
func (s *MarketStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status = 'open' AND resolution_timestamp <= $1
		 ORDER BY resolution_timestamp ASC, market_id ASC
		 LIMIT $2`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan due market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due markets rows: %w", err)
	}
	return markets, nil
}

// MarkResolved moves an open market to resolved. It reports false when the
// row was no longer open.
func (s *MarketStore) MarkResolved(ctx context.Context, id uint64, outcome domain.Outcome, reasoning string, resolvedAt int64) (bool, error) {
	if outcome != domain.OutcomeYes && outcome != domain.OutcomeNo {
		return false, fmt.Errorf("postgres: mark market %d resolved: %w: outcome required", id, domain.ErrValidation)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET status = 'resolved', outcome = $2, ai_reasoning = $3,
		    resolved_at = $4, updated_at = NOW()
		WHERE market_id = $1 AND status = 'open'`,
		id, outcome == domain.OutcomeYes, reasoning, resolvedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: mark market %d resolved: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVoided moves an open market to voided. It reports false when the row
// was no longer open.
func (s *MarketStore) MarkVoided(ctx context.Context, id uint64, reasoning string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET status = 'voided', outcome = NULL, ai_reasoning = $2, updated_at = NOW()
		WHERE market_id = $1 AND status = 'open'`,
		id, reasoning,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: mark market %d voided: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m       domain.Market
		status  string
		outcome *bool
	)
	err := row.Scan(
		&m.ID, &m.Pubkey, &m.Creator, &m.Question, &m.ResolutionSource,
		&m.ResolutionTimestamp, &m.YesReserve, &m.NoReserve, &m.TotalMinted,
		&m.InitialLiquidity, &m.SwapFeeBps, &m.TreasuryFee, &m.CreatorFee, &status,
		&outcome, &m.ResolvedAt, &m.AIReasoning, &m.CreatorFeeClaimed,
		&m.TreasuryFeeClaimed, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if outcome != nil {
		m.Outcome = domain.OutcomeFromBool(*outcome)
	}
	return m, nil
}

// outcomeParam maps an outcome onto the nullable boolean column.
func outcomeParam(status domain.MarketStatus, o domain.Outcome) *bool {
	if status != domain.MarketStatusResolved {
		return nil
	}
	switch o {
	case domain.OutcomeYes:
		v := true
		return &v
	case domain.OutcomeNo:
		v := false
		return &v
	default:
		return nil
	}
}
