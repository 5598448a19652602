package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

type fakeLedger struct {
	mu          sync.Mutex
	markets     map[uint64]domain.Market
	positions   map[string]domain.Position
	positionErr error
	cfg         domain.LedgerConfig
	reads       int
	configReads int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{markets: map[uint64]domain.Market{}, positions: map[string]domain.Position{}}
}

func posKey(id uint64, wallet string) string {
	return fmt.Sprintf("%d/%s", id, wallet)
}

func (f *fakeLedger) MarketAccount(_ context.Context, id uint64) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeLedger) PositionAccount(_ context.Context, id uint64, wallet string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.positionErr != nil {
		return domain.Position{}, f.positionErr
	}
	p, ok := f.positions[posKey(id, wallet)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeLedger) ConfigAccount(context.Context) (domain.LedgerConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configReads++
	return f.cfg, nil
}

func (f *fakeLedger) Resolve(context.Context, uint64, bool) (string, error) { return "", nil }
func (f *fakeLedger) Void(context.Context, uint64, string) (string, error)  { return "", nil }

type memMarkets struct {
	rows map[uint64]domain.Market
}

func (s *memMarkets) UpsertFromLedger(_ context.Context, m domain.Market) error {
	if s.rows == nil {
		s.rows = map[uint64]domain.Market{}
	}
	if old, ok := s.rows[m.ID]; ok {
		old.YesReserve, old.NoReserve, old.TotalMinted = m.YesReserve, m.NoReserve, m.TotalMinted
		old.TreasuryFee, old.CreatorFee = m.TreasuryFee, m.CreatorFee
		s.rows[m.ID] = old
		return nil
	}
	s.rows[m.ID] = m
	return nil
}

func (s *memMarkets) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := s.rows[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) ListDue(context.Context, time.Time, int) ([]domain.Market, error) {
	return nil, nil
}

func (s *memMarkets) MarkResolved(context.Context, uint64, domain.Outcome, string, int64) (bool, error) {
	return false, nil
}

func (s *memMarkets) MarkVoided(context.Context, uint64, string) (bool, error) { return false, nil }

type memPositions struct {
	rows map[string]domain.Position
}

func (s *memPositions) UpsertFromLedger(_ context.Context, p domain.Position) error {
	if s.rows == nil {
		s.rows = map[string]domain.Position{}
	}
	k := posKey(p.MarketID, p.Wallet)
	if old, ok := s.rows[k]; ok {
		p.Claimed = p.Claimed || old.Claimed
		p.CostBasis = old.CostBasis
	}
	s.rows[k] = p
	return nil
}

func (s *memPositions) ApplyCostBasisDelta(_ context.Context, id uint64, wallet string, delta int64) error {
	k := posKey(id, wallet)
	p, ok := s.rows[k]
	if !ok {
		return domain.ErrNotFound
	}
	v := int64(p.CostBasis) + delta
	if v < 0 {
		v = 0
	}
	p.CostBasis = uint64(v)
	s.rows[k] = p
	return nil
}

func (s *memPositions) Get(_ context.Context, id uint64, wallet string) (domain.Position, error) {
	p, ok := s.rows[posKey(id, wallet)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

type memLogs struct {
	rows []domain.ResolutionLog
}

func (s *memLogs) Append(_ context.Context, l domain.ResolutionLog) (int64, error) {
	l.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, l)
	return l.ID, nil
}

func (s *memLogs) BackfillSignature(context.Context, uint64, string) error { return nil }

func (s *memLogs) ListByMarket(_ context.Context, id uint64, opts domain.ListOpts) ([]domain.ResolutionLog, error) {
	var out []domain.ResolutionLog
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].MarketID == id {
			out = append(out, s.rows[i])
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *memLogs) AttemptStats(context.Context, uint64) (domain.AttemptStats, error) {
	return domain.AttemptStats{}, nil
}

func (s *memLogs) ListBefore(context.Context, time.Time) ([]domain.ResolutionLog, error) {
	return nil, nil
}

type memCache struct {
	rows        map[uint64]domain.Market
	invalidated []uint64
}

func (c *memCache) Set(_ context.Context, m domain.Market) error {
	if c.rows == nil {
		c.rows = map[uint64]domain.Market{}
	}
	c.rows[m.ID] = m
	return nil
}

func (c *memCache) Get(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := c.rows[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCache) Invalidate(_ context.Context, id uint64) error {
	delete(c.rows, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type memConfigCache struct {
	cfg *domain.LedgerConfig
}

func (c *memConfigCache) SetConfig(_ context.Context, cfg domain.LedgerConfig) error {
	c.cfg = &cfg
	return nil
}

func (c *memConfigCache) GetConfig(context.Context) (domain.LedgerConfig, error) {
	if c.cfg == nil {
		return domain.LedgerConfig{}, domain.ErrNotFound
	}
	return *c.cfg, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, _ string, ev domain.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}
