package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/metrics"
	"github.com/alanyoungcy/degenbets-settler/internal/source"
)

const (
	defaultBatchSize = 20

	// maxLoggedSourceRunes bounds resolution_logs.source_text.
	maxLoggedSourceRunes = 10_000
)

// SourceFetcher downloads a resolution source.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (source.Document, error)
}

// Oracle turns a question and its source text into a decision. It never
// fails; problems come back as a DecisionError.
type Oracle interface {
	Decide(ctx context.Context, question, sourceURL, sourceText string) domain.Decision
}

// MarketRefresher re-reads a market from the ledger into the mirror.
type MarketRefresher interface {
	RefreshMarket(ctx context.Context, id uint64) (domain.Market, error)
}

// Alerter delivers operator notifications.
type Alerter interface {
	NotifyEvent(ctx context.Context, ev domain.LifecycleEvent) error
}

// SweeperConfig tunes the resolution sweep.
type SweeperConfig struct {
	// BatchSize caps the markets processed per sweep. Default 20.
	BatchSize int
	// MaxAttempts triggers a resolution_stuck alert each time a market's
	// attempt count reaches a multiple of it. 0 disables the alert.
	MaxAttempts int
	// RetryBackoff skips markets attempted more recently than this.
	RetryBackoff time.Duration
	// Evidence stores the raw source body of every attempt.
	Evidence bool
}

// SweeperDeps are the collaborators of a ResolutionSweeper. Evidence,
// HostLimiter, Events, Alerts, Audit and Metrics are optional.
type SweeperDeps struct {
	Markets     domain.MarketStore
	Logs        domain.ResolutionLogStore
	Ledger      domain.Ledger
	Mirror      MarketRefresher
	Fetcher     SourceFetcher
	Oracle      Oracle
	Evidence    domain.EvidenceStore
	HostLimiter domain.RateLimiter
	Events      domain.EventPublisher
	Alerts      Alerter
	Audit       domain.AuditStore
	Metrics     *metrics.SettlerMetrics
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Voided    int `json:"voided"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// MarketResult is the outcome of processing one market.
type MarketResult string

const (
	ResultResolved MarketResult = "resolved"
	ResultVoided   MarketResult = "voided"
	ResultError    MarketResult = "error"
	ResultSkipped  MarketResult = "skipped"
)

// ResolutionSweeper drives due markets from open to resolved or voided. A
// market's mirrored status changes only after the ledger confirmed the
// matching settlement transaction. Every attempt that reaches the oracle
// leaves exactly one resolution_logs row.
type ResolutionSweeper struct {
	deps    SweeperDeps
	cfg     SweeperConfig
	trigger chan struct{}
	// active admits one sweep at a time in this process.
	active chan struct{}
	logger *slog.Logger
	now    func() time.Time
}

// NewResolutionSweeper creates a ResolutionSweeper.
func NewResolutionSweeper(deps SweeperDeps, cfg SweeperConfig, logger *slog.Logger) *ResolutionSweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &ResolutionSweeper{
		deps:    deps,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		active:  make(chan struct{}, 1),
		logger:  logger.With(slog.String("component", "sweeper")),
		now:     time.Now,
	}
}

// Enqueue asks the running loop for an extra sweep without waiting for it.
// Requests made while one is already pending are coalesced.
func (s *ResolutionSweeper) Enqueue() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Sweep processes every due market once, sequentially, and returns the
// counts. A sweep already running in this process is waited for first.
// Cancelling ctx stops the sweep between markets; a market already in
// progress runs to completion on a detached context.
func (s *ResolutionSweeper) Sweep(ctx context.Context) (SweepStats, error) {
	return s.sweep(ctx, "manual")
}

func (s *ResolutionSweeper) sweep(ctx context.Context, trigger string) (SweepStats, error) {
	select {
	case s.active <- struct{}{}:
	case <-ctx.Done():
		return SweepStats{}, ctx.Err()
	}
	defer func() { <-s.active }()

	start := s.now()
	var stats SweepStats

	due, err := s.deps.Markets.ListDue(ctx, start, s.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("sweeper: list due markets: %w", err)
	}

	for _, m := range due {
		if err := ctx.Err(); err != nil {
			s.logger.WarnContext(ctx, "sweep cancelled", slog.Int("remaining", len(due)-stats.total()))
			return stats, err
		}

		result, err := s.ProcessMarket(context.WithoutCancel(ctx), m.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "market processing failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			result = ResultError
		}
		stats.add(result)
		s.deps.Metrics.RecordMarket(string(result))
	}

	elapsed := s.now().Sub(start)
	s.deps.Metrics.RecordSweep(trigger, elapsed)
	s.publish(ctx, domain.ChannelSweep, domain.LifecycleEvent{
		Type: domain.EventSweepCompleted,
		Payload: map[string]any{
			"trigger":   trigger,
			"attempted": stats.Attempted,
			"resolved":  stats.Resolved,
			"voided":    stats.Voided,
			"errors":    stats.Errors,
			"skipped":   stats.Skipped,
		},
	})
	s.logger.InfoContext(ctx, "sweep complete",
		slog.String("trigger", trigger),
		slog.Int("due", len(due)),
		slog.Int("attempted", stats.Attempted),
		slog.Int("resolved", stats.Resolved),
		slog.Int("voided", stats.Voided),
		slog.Int("errors", stats.Errors),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("elapsed", elapsed),
	)
	return stats, nil
}

// ProcessMarket runs the fetch, decide and settle pipeline for one market.
// The row is re-read first, so a market settled by an overlapping sweep is
// skipped without a new log row. A returned error means the attempt could
// not be recorded; settlement failures are reported as ResultError.
func (s *ResolutionSweeper) ProcessMarket(ctx context.Context, id uint64) (MarketResult, error) {
	log := s.logger.With(slog.Uint64("market_id", id))

	m, err := s.deps.Markets.GetByID(ctx, id)
	if err != nil {
		return ResultError, fmt.Errorf("sweeper: reload market %d: %w", id, err)
	}
	now := s.now()
	if !m.IsDue(now) {
		log.DebugContext(ctx, "market no longer due", slog.String("status", string(m.Status)))
		return ResultSkipped, nil
	}

	stats, err := s.deps.Logs.AttemptStats(ctx, id)
	if err != nil {
		return ResultError, fmt.Errorf("sweeper: attempt stats %d: %w", id, err)
	}
	if s.cfg.RetryBackoff > 0 && stats.LastAttempted != nil && now.Sub(*stats.LastAttempted) < s.cfg.RetryBackoff {
		log.DebugContext(ctx, "market in retry backoff", slog.Time("last_attempted", *stats.LastAttempted))
		return ResultSkipped, nil
	}

	if settled, err := s.reconcileSettled(ctx, m); err != nil {
		return ResultError, err
	} else if settled {
		return ResultSkipped, nil
	}

	// Fetch.
	text, fetchErr, evidencePath := s.fetchSource(ctx, m)

	// Decide.
	decideStart := time.Now()
	decision := s.deps.Oracle.Decide(ctx, m.Question, m.ResolutionSource, text)
	s.deps.Metrics.RecordDecision(string(decision.Kind), decision.Confidence, time.Since(decideStart))

	// Record the attempt before touching the ledger.
	entry := domain.ResolutionLog{
		MarketID:     id,
		SourceURL:    m.ResolutionSource,
		SourceText:   source.TruncateRunes(text, maxLoggedSourceRunes),
		AIReasoning:  decision.Reasoning,
		AIDecision:   decision.Kind,
		Confidence:   decision.Confidence,
		ErrorMessage: attemptError(fetchErr, decision),
		EvidencePath: evidencePath,
		AttemptedAt:  now,
	}
	if _, err := s.deps.Logs.Append(ctx, entry); err != nil {
		return ResultError, fmt.Errorf("sweeper: append resolution log %d: %w", id, err)
	}
	attempts := stats.Attempts + 1

	log.InfoContext(ctx, "oracle decision",
		slog.String("decision", string(decision.Kind)),
		slog.Float64("confidence", decision.Confidence),
		slog.Int("attempt", attempts),
	)

	switch decision.Kind {
	case domain.DecisionYes, domain.DecisionNo:
		return s.resolve(ctx, m, decision, attempts)
	case domain.DecisionVoid:
		return s.void(ctx, m, decision, attempts)
	default:
		s.maybeStuck(ctx, m, attempts, decision.Reasoning)
		return ResultError, nil
	}
}

// fetchSource downloads and extracts the source text. A failed fetch yields
// the "[FETCH ERROR: ...]" placeholder, which the oracle sees as its source.
func (s *ResolutionSweeper) fetchSource(ctx context.Context, m domain.Market) (text, fetchErr string, evidencePath *string) {
	if s.deps.HostLimiter != nil {
		if u, err := url.Parse(m.ResolutionSource); err == nil && u.Host != "" {
			if err := s.deps.HostLimiter.Wait(ctx, "source:"+strings.ToLower(u.Host)); err != nil {
				s.logger.WarnContext(ctx, "source rate limit wait failed", slog.String("error", err.Error()))
			}
		}
	}

	start := time.Now()
	doc, err := s.deps.Fetcher.Fetch(ctx, m.ResolutionSource)
	if err != nil {
		s.deps.Metrics.RecordFetch(fetchResult(err), time.Since(start))
		s.logger.WarnContext(ctx, "source fetch failed",
			slog.Uint64("market_id", m.ID),
			slog.String("url", m.ResolutionSource),
			slog.String("error", err.Error()),
		)
		return "[FETCH ERROR: " + err.Error() + "]", err.Error(), nil
	}
	s.deps.Metrics.RecordFetch("ok", time.Since(start))

	if s.cfg.Evidence && s.deps.Evidence != nil && len(doc.Raw) > 0 {
		key, err := s.deps.Evidence.Save(ctx, m.ID, doc.Raw, doc.ContentType, s.now())
		if err != nil {
			s.logger.WarnContext(ctx, "evidence upload failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		} else {
			evidencePath = &key
		}
	}
	return doc.Text, "", evidencePath
}

func (s *ResolutionSweeper) resolve(ctx context.Context, m domain.Market, d domain.Decision, attempts int) (MarketResult, error) {
	outcome := domain.OutcomeNo
	if d.Kind == domain.DecisionYes {
		outcome = domain.OutcomeYes
	}

	sig, err := s.deps.Ledger.Resolve(ctx, m.ID, outcome == domain.OutcomeYes)
	if err != nil {
		s.ledgerFailed(ctx, m, "resolve", err, attempts)
		return ResultError, nil
	}

	resolvedAt := s.now().Unix()
	if s.deps.Mirror != nil {
		if fresh, err := s.deps.Mirror.RefreshMarket(ctx, m.ID); err != nil {
			s.logger.WarnContext(ctx, "refresh after resolve failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		} else if fresh.ResolvedAt > 0 {
			resolvedAt = fresh.ResolvedAt
		}
	}

	changed, err := s.deps.Markets.MarkResolved(ctx, m.ID, outcome, d.Reasoning, resolvedAt)
	if err != nil {
		return ResultError, fmt.Errorf("sweeper: mark resolved %d (tx %s): %w", m.ID, sig, err)
	}
	if err := s.deps.Logs.BackfillSignature(ctx, m.ID, sig); err != nil {
		return ResultError, fmt.Errorf("sweeper: backfill signature %d (tx %s): %w", m.ID, sig, err)
	}
	if !changed {
		s.logger.WarnContext(ctx, "market already settled in mirror", slog.Uint64("market_id", m.ID))
	}

	ev := domain.LifecycleEvent{
		Type:      domain.EventMarketResolved,
		MarketID:  m.ID,
		Decision:  d.Kind,
		Signature: sig,
		Payload: map[string]any{
			"confidence":  d.Confidence,
			"resolved_at": resolvedAt,
			"attempts":    attempts,
		},
	}
	s.publish(ctx, domain.ChannelMarket, ev)
	s.alert(ctx, ev)
	s.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", m.ID),
		slog.String("outcome", outcome.String()),
		slog.String("signature", sig),
	)
	return ResultResolved, nil
}

func (s *ResolutionSweeper) void(ctx context.Context, m domain.Market, d domain.Decision, attempts int) (MarketResult, error) {
	sig, err := s.deps.Ledger.Void(ctx, m.ID, d.Reasoning)
	if err != nil {
		s.ledgerFailed(ctx, m, "void", err, attempts)
		return ResultError, nil
	}

	changed, err := s.deps.Markets.MarkVoided(ctx, m.ID, d.Reasoning)
	if err != nil {
		return ResultError, fmt.Errorf("sweeper: mark voided %d (tx %s): %w", m.ID, sig, err)
	}
	if err := s.deps.Logs.BackfillSignature(ctx, m.ID, sig); err != nil {
		return ResultError, fmt.Errorf("sweeper: backfill signature %d (tx %s): %w", m.ID, sig, err)
	}
	if !changed {
		s.logger.WarnContext(ctx, "market already settled in mirror", slog.Uint64("market_id", m.ID))
	}
	if s.deps.Mirror != nil {
		if _, err := s.deps.Mirror.RefreshMarket(ctx, m.ID); err != nil {
			s.logger.WarnContext(ctx, "refresh after void failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	ev := domain.LifecycleEvent{
		Type:      domain.EventMarketVoided,
		MarketID:  m.ID,
		Decision:  d.Kind,
		Signature: sig,
		Payload: map[string]any{
			"reason":   d.Reasoning,
			"attempts": attempts,
		},
	}
	s.publish(ctx, domain.ChannelMarket, ev)
	s.alert(ctx, ev)
	s.logger.InfoContext(ctx, "market voided",
		slog.Uint64("market_id", m.ID),
		slog.String("signature", sig),
	)
	return ResultVoided, nil
}

// reconcileSettled catches markets the ledger already settled while the
// mirror still shows them open, e.g. after a confirmation timeout on a
// transaction that landed later. The mirror adopts the ledger's terminal
// state and no new attempt is made. A failed ledger read is not fatal; the
// attempt proceeds and any submission error is handled there.
func (s *ResolutionSweeper) reconcileSettled(ctx context.Context, m domain.Market) (bool, error) {
	onLedger, err := s.deps.Ledger.MarketAccount(ctx, m.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger pre-check failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	if !onLedger.Status.Terminal() {
		return false, nil
	}

	const reasoning = "Settled on ledger before mirror update; reconciled"
	var changed bool
	switch onLedger.Status {
	case domain.MarketStatusResolved:
		resolvedAt := onLedger.ResolvedAt
		if resolvedAt == 0 {
			resolvedAt = s.now().Unix()
		}
		changed, err = s.deps.Markets.MarkResolved(ctx, m.ID, onLedger.Outcome, reasoning, resolvedAt)
	default:
		changed, err = s.deps.Markets.MarkVoided(ctx, m.ID, reasoning)
	}
	if err != nil {
		return false, fmt.Errorf("sweeper: reconcile market %d: %w", m.ID, err)
	}
	if !changed {
		return true, nil
	}

	s.logger.WarnContext(ctx, "reconciled market settled on ledger",
		slog.Uint64("market_id", m.ID),
		slog.String("status", string(onLedger.Status)),
	)
	if s.deps.Audit != nil {
		if err := s.deps.Audit.Log(ctx, "market_reconciled", map[string]any{
			"market_id": m.ID,
			"status":    string(onLedger.Status),
			"outcome":   onLedger.Outcome.String(),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	s.alert(ctx, domain.LifecycleEvent{
		Type:     domain.EventLedgerError,
		MarketID: m.ID,
		Payload: map[string]any{
			"op":     "reconcile",
			"status": string(onLedger.Status),
		},
	})
	return true, nil
}

func (s *ResolutionSweeper) ledgerFailed(ctx context.Context, m domain.Market, op string, err error, attempts int) {
	s.logger.ErrorContext(ctx, "ledger submission failed",
		slog.Uint64("market_id", m.ID),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	s.alert(ctx, domain.LifecycleEvent{
		Type:     domain.EventLedgerError,
		MarketID: m.ID,
		Payload: map[string]any{
			"op":    op,
			"error": err.Error(),
		},
	})
	s.maybeStuck(ctx, m, attempts, err.Error())
}

// maybeStuck alerts when attempts reaches a multiple of MaxAttempts. The
// market stays open and keeps being retried.
func (s *ResolutionSweeper) maybeStuck(ctx context.Context, m domain.Market, attempts int, lastError string) {
	if s.cfg.MaxAttempts <= 0 || attempts%s.cfg.MaxAttempts != 0 {
		return
	}
	s.logger.WarnContext(ctx, "market resolution stuck",
		slog.Uint64("market_id", m.ID),
		slog.Int("attempts", attempts),
	)
	s.alert(ctx, domain.LifecycleEvent{
		Type:     domain.EventResolutionStuck,
		MarketID: m.ID,
		Payload: map[string]any{
			"attempts":   attempts,
			"last_error": lastError,
			"question":   m.Question,
		},
	})
}

func (s *ResolutionSweeper) publish(ctx context.Context, channel string, ev domain.LifecycleEvent) {
	if s.deps.Events == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	if err := s.deps.Events.PublishEvent(ctx, channel, ev); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ResolutionSweeper) alert(ctx context.Context, ev domain.LifecycleEvent) {
	if s.deps.Alerts == nil {
		return
	}
	if err := s.deps.Alerts.NotifyEvent(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// attemptError combines the fetch failure and the oracle failure reason
// into the error_message column, or nil when neither happened.
func attemptError(fetchErr string, d domain.Decision) *string {
	var parts []string
	if fetchErr != "" {
		parts = append(parts, fetchErr)
	}
	if d.Kind == domain.DecisionError && d.Reasoning != "" {
		parts = append(parts, d.Reasoning)
	}
	if len(parts) == 0 {
		return nil
	}
	msg := strings.Join(parts, "; ")
	return &msg
}

func fetchResult(err error) string {
	var fe *source.FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "error"
}

func (st *SweepStats) add(r MarketResult) {
	switch r {
	case ResultResolved:
		st.Attempted++
		st.Resolved++
	case ResultVoided:
		st.Attempted++
		st.Voided++
	case ResultError:
		st.Attempted++
		st.Errors++
	case ResultSkipped:
		st.Skipped++
	}
}

func (st SweepStats) total() int {
	return st.Attempted + st.Skipped
}
