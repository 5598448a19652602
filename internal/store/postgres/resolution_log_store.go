package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// ResolutionLogStore implements domain.ResolutionLogStore using PostgreSQL.
type ResolutionLogStore struct {
	pool *pgxpool.Pool
}

var _ domain.ResolutionLogStore = (*ResolutionLogStore)(nil)

// NewResolutionLogStore creates a new ResolutionLogStore backed by the given
// connection pool.
func NewResolutionLogStore(pool *pgxpool.Pool) *ResolutionLogStore {
	return &ResolutionLogStore{pool: pool}
}

const resolutionLogCols = `id, market_id, source_url, source_text, ai_reasoning,
	ai_decision, confidence, tx_signature, error_message, evidence_path,
	attempted_at`

// Append inserts one attempt row and returns its id.
func (s *ResolutionLogStore) Append(ctx context.Context, l domain.ResolutionLog) (int64, error) {
	attemptedAt := l.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO resolution_logs (
			market_id, source_url, source_text, ai_reasoning, ai_decision,
			confidence, tx_signature, error_message, evidence_path, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		l.MarketID, l.SourceURL, l.SourceText, l.AIReasoning, string(l.AIDecision),
		l.Confidence, l.TxSignature, l.ErrorMessage, l.EvidencePath, attemptedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: append resolution log for market %d: %w", l.MarketID, err)
	}
	return id, nil
}

// BackfillSignature records signature on the newest unsigned row for the
// market.
func (s *ResolutionLogStore) BackfillSignature(ctx context.Context, marketID uint64, signature string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE resolution_logs SET tx_signature = $2
		WHERE id = (
			SELECT id FROM resolution_logs
			WHERE market_id = $1 AND tx_signature IS NULL
			ORDER BY attempted_at DESC, id DESC
			LIMIT 1
		)`,
		marketID, signature,
	)
	if err != nil {
		return fmt.Errorf("postgres: backfill signature for market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByMarket returns the attempt history of one market, newest first.
func (s *ResolutionLogStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.ResolutionLog, error) {
	query, args := appendListOpts(
		`SELECT `+resolutionLogCols+` FROM resolution_logs WHERE market_id = $1`,
		[]any{marketID}, opts, "attempted_at",
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolution logs for market %d: %w", marketID, err)
	}
	return collectResolutionLogs(rows)
}

// AttemptStats counts prior attempts for a market.
func (s *ResolutionLogStore) AttemptStats(ctx context.Context, marketID uint64) (domain.AttemptStats, error) {
	var st domain.AttemptStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MAX(attempted_at)
		FROM resolution_logs WHERE market_id = $1`,
		marketID,
	).Scan(&st.Attempts, &st.LastAttempted)
	if err != nil {
		return domain.AttemptStats{}, fmt.Errorf("postgres: attempt stats for market %d: %w", marketID, err)
	}
	return st, nil
}

// ListBefore returns every row attempted before the cutoff, oldest first.
func (s *ResolutionLogStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ResolutionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionLogCols+` FROM resolution_logs
		 WHERE attempted_at < $1
		 ORDER BY attempted_at ASC, id ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolution logs before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectResolutionLogs(rows)
}

func collectResolutionLogs(rows pgx.Rows) ([]domain.ResolutionLog, error) {
	defer rows.Close()

	var logs []domain.ResolutionLog
	for rows.Next() {
		var (
			l        domain.ResolutionLog
			decision string
		)
		if err := rows.Scan(
			&l.ID, &l.MarketID, &l.SourceURL, &l.SourceText, &l.AIReasoning,
			&decision, &l.Confidence, &l.TxSignature, &l.ErrorMessage, &l.EvidencePath,
			&l.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan resolution log: %w", err)
		}
		l.AIDecision = domain.DecisionKind(decision)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: resolution log rows: %w", err)
	}
	return logs, nil
}
