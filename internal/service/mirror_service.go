package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/ledger"
	"github.com/alanyoungcy/degenbets-settler/internal/metrics"
)

// walletPattern matches a base58 encoded 32-byte public key.
var walletPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidWallet reports whether s looks like a ledger wallet address.
func ValidWallet(s string) bool {
	return walletPattern.MatchString(s)
}

// SyncResult is the mirrored state after one Sync call. Position is nil when
// the wallet has no position account for the market.
type SyncResult struct {
	Market   domain.Market
	Position *domain.Position
}

// MirrorService copies canonical ledger accounts into the relational store.
// Every call re-reads the ledger, so concurrent or repeated syncs of the
// same pair converge on the ledger's state.
type MirrorService struct {
	ledger    domain.Ledger
	markets   domain.MarketStore
	positions domain.PositionStore
	cache     domain.MarketCache
	events    domain.EventPublisher
	metrics   *metrics.SettlerMetrics
	logger    *slog.Logger
}

// NewMirrorService creates a MirrorService. cache, events and m may be nil.
func NewMirrorService(
	l domain.Ledger,
	markets domain.MarketStore,
	positions domain.PositionStore,
	cache domain.MarketCache,
	events domain.EventPublisher,
	m *metrics.SettlerMetrics,
	logger *slog.Logger,
) *MirrorService {
	return &MirrorService{
		ledger:    l,
		markets:   markets,
		positions: positions,
		cache:     cache,
		events:    events,
		metrics:   m,
		logger:    logger,
	}
}

// Sync reads the market and the wallet's position from the ledger, upserts
// both rows and applies costBasisDelta to the position. Invalid input is
// rejected with domain.ErrValidation before any I/O.
func (s *MirrorService) Sync(ctx context.Context, marketID uint64, wallet string, costBasisDelta int64) (res SyncResult, err error) {
	if marketID == 0 {
		return SyncResult{}, fmt.Errorf("mirror_service: %w: market id must be positive", domain.ErrValidation)
	}
	if !ValidWallet(wallet) {
		return SyncResult{}, fmt.Errorf("mirror_service: %w: invalid wallet %q", domain.ErrValidation, wallet)
	}
	defer func() { s.metrics.RecordSync(err) }()

	var (
		market      domain.Market
		position    domain.Position
		hasPosition bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.ledger.MarketAccount(gctx, marketID)
		if err != nil {
			return fmt.Errorf("read market: %w", err)
		}
		market = m
		return nil
	})
	g.Go(func() error {
		p, err := s.ledger.PositionAccount(gctx, marketID, wallet)
		switch {
		case err == nil:
			position, hasPosition = p, true
			return nil
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, ledger.ErrShortAccount):
			return nil
		default:
			return fmt.Errorf("read position: %w", err)
		}
	})
	if err := g.Wait(); err != nil {
		return SyncResult{}, fmt.Errorf("mirror_service: sync market %d: %w", marketID, err)
	}

	if err := s.markets.UpsertFromLedger(ctx, market); err != nil {
		return SyncResult{}, fmt.Errorf("mirror_service: sync market %d: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)
	res.Market = market

	if hasPosition {
		if err := s.positions.UpsertFromLedger(ctx, position); err != nil {
			return SyncResult{}, fmt.Errorf("mirror_service: sync position %d/%s: %w", marketID, wallet, err)
		}
		if costBasisDelta != 0 {
			if err := s.positions.ApplyCostBasisDelta(ctx, marketID, wallet, costBasisDelta); err != nil {
				return SyncResult{}, fmt.Errorf("mirror_service: cost basis %d/%s: %w", marketID, wallet, err)
			}
		}
		stored, err := s.positions.Get(ctx, marketID, wallet)
		if err != nil {
			return SyncResult{}, fmt.Errorf("mirror_service: reload position %d/%s: %w", marketID, wallet, err)
		}
		res.Position = &stored
	}

	s.publish(ctx, domain.ChannelSync, domain.LifecycleEvent{
		Type:     domain.EventPositionSynced,
		MarketID: marketID,
		Wallet:   wallet,
		Payload: map[string]any{
			"has_position":     hasPosition,
			"cost_basis_delta": costBasisDelta,
		},
	})

	s.logger.InfoContext(ctx, "mirror_service: synced",
		slog.Uint64("market_id", marketID),
		slog.String("wallet", wallet),
		slog.Bool("has_position", hasPosition),
		slog.Int64("cost_basis_delta", costBasisDelta),
	)
	return res, nil
}

// RefreshMarket re-reads one market from the ledger, refreshes its AMM and
// fee columns and returns the ledger's view, including resolved_at.
func (s *MirrorService) RefreshMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	m, err := s.ledger.MarketAccount(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("mirror_service: refresh market %d: %w", marketID, err)
	}
	if err := s.markets.UpsertFromLedger(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("mirror_service: refresh market %d: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)
	return m, nil
}

// GetPosition returns the mirrored position, or domain.ErrNotFound.
func (s *MirrorService) GetPosition(ctx context.Context, marketID uint64, wallet string) (domain.Position, error) {
	if marketID == 0 || wallet == "" {
		return domain.Position{}, fmt.Errorf("mirror_service: %w: marketId and wallet are required", domain.ErrValidation)
	}
	p, err := s.positions.Get(ctx, marketID, wallet)
	if err != nil {
		return domain.Position{}, fmt.Errorf("mirror_service: get position %d/%s: %w", marketID, wallet, err)
	}
	return p, nil
}

func (s *MirrorService) invalidate(ctx context.Context, marketID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		// Non-fatal: the entry expires on its own.
		s.logger.WarnContext(ctx, "mirror_service: cache invalidate failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MirrorService) publish(ctx context.Context, channel string, ev domain.LifecycleEvent) {
	if s.events == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	if err := s.events.PublishEvent(ctx, channel, ev); err != nil {
		s.logger.WarnContext(ctx, "mirror_service: publish event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}
