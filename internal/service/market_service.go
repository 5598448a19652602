package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/settlement"
)

// MarketView is the mirrored market together with its derived economics.
type MarketView struct {
	Market  domain.Market
	Summary settlement.MarketSummary
}

// MarketService serves read-side market data: cached market rows, the
// ledger config, the resolution history and claim quotes.
type MarketService struct {
	markets     domain.MarketStore
	positions   domain.PositionStore
	logs        domain.ResolutionLogStore
	ledger      domain.Ledger
	cache       domain.MarketCache
	configCache domain.LedgerConfigCache
	logger      *slog.Logger
	now         func() time.Time
}

// NewMarketService creates a MarketService. The caches may be nil.
func NewMarketService(
	markets domain.MarketStore,
	positions domain.PositionStore,
	logs domain.ResolutionLogStore,
	l domain.Ledger,
	cache domain.MarketCache,
	configCache domain.LedgerConfigCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:     markets,
		positions:   positions,
		logs:        logs,
		ledger:      l,
		cache:       cache,
		configCache: configCache,
		logger:      logger,
		now:         time.Now,
	}
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the persistent store on a cache miss.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %d: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// LedgerConfig returns the ledger config account, cached for a few minutes.
func (s *MarketService) LedgerConfig(ctx context.Context) (domain.LedgerConfig, error) {
	if s.configCache != nil {
		if cfg, err := s.configCache.GetConfig(ctx); err == nil {
			return cfg, nil
		}
	}

	cfg, err := s.ledger.ConfigAccount(ctx)
	if err != nil {
		return domain.LedgerConfig{}, fmt.Errorf("market_service: ledger config: %w", err)
	}

	if s.configCache != nil {
		if cacheErr := s.configCache.SetConfig(ctx, cfg); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: config cache set failed",
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return cfg, nil
}

// View returns the market and its economics summary.
func (s *MarketService) View(ctx context.Context, id uint64) (MarketView, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return MarketView{}, err
	}
	cfg, err := s.LedgerConfig(ctx)
	if err != nil {
		return MarketView{}, err
	}
	return MarketView{Market: m, Summary: settlement.Summarize(m, cfg, s.now())}, nil
}

// Resolutions returns the resolution attempts for a market, newest first.
func (s *MarketService) Resolutions(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.ResolutionLog, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	logs, err := s.logs.ListByMarket(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: resolutions for %d: %w", id, err)
	}
	return logs, nil
}

// ClaimQuote computes what wallet can claim from market id right now. A
// wallet without a mirrored position gets a quote with nothing to claim.
func (s *MarketService) ClaimQuote(ctx context.Context, id uint64, wallet string) (settlement.ClaimQuote, error) {
	if !ValidWallet(wallet) {
		return settlement.ClaimQuote{}, fmt.Errorf("market_service: %w: invalid wallet %q", domain.ErrValidation, wallet)
	}
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return settlement.ClaimQuote{}, err
	}
	cfg, err := s.LedgerConfig(ctx)
	if err != nil {
		return settlement.ClaimQuote{}, err
	}

	p, err := s.positions.Get(ctx, id, wallet)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p = domain.Position{MarketID: id, Wallet: wallet}
	case err != nil:
		return settlement.ClaimQuote{}, fmt.Errorf("market_service: position %d/%s: %w", id, wallet, err)
	}

	return settlement.Quote(p, m, cfg, s.now()), nil
}
