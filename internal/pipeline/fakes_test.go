package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore implements MarketStore and ResolutionLogStore with the same
// guards as the SQL stores.
type memStore struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market
	logs    []domain.ResolutionLog
	// stale entries returned by ListDue regardless of the row state.
	stale []domain.Market
}

func newMemStore(ms ...domain.Market) *memStore {
	s := &memStore{markets: map[uint64]domain.Market{}}
	for _, m := range ms {
		s.markets[m.ID] = m
	}
	return s
}

func (s *memStore) UpsertFromLedger(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.markets[m.ID]; ok {
		old.YesReserve, old.NoReserve = m.YesReserve, m.NoReserve
		s.markets[m.ID] = old
		return nil
	}
	s.markets[m.ID] = m
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale != nil {
		return s.stale, nil
	}
	var out []domain.Market
	for _, m := range s.markets {
		if m.IsDue(now) {
			out = append(out, m)
		}
	}
	sortByDeadline(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByDeadline(ms []domain.Market) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && (ms[j].ResolutionTimestamp < ms[j-1].ResolutionTimestamp ||
			ms[j].ResolutionTimestamp == ms[j-1].ResolutionTimestamp && ms[j].ID < ms[j-1].ID); j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}

func (s *memStore) MarkResolved(_ context.Context, id uint64, o domain.Outcome, reasoning string, at int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok || m.Status != domain.MarketStatusOpen {
		return false, nil
	}
	m.Status, m.Outcome, m.AIReasoning, m.ResolvedAt = domain.MarketStatusResolved, o, reasoning, at
	s.markets[id] = m
	return true, nil
}

func (s *memStore) MarkVoided(_ context.Context, id uint64, reasoning string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok || m.Status != domain.MarketStatusOpen {
		return false, nil
	}
	m.Status, m.AIReasoning = domain.MarketStatusVoided, reasoning
	s.markets[id] = m
	return true, nil
}

func (s *memStore) Append(_ context.Context, l domain.ResolutionLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = int64(len(s.logs) + 1)
	s.logs = append(s.logs, l)
	return l.ID, nil
}

func (s *memStore) BackfillSignature(_ context.Context, id uint64, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].MarketID == id && s.logs[i].TxSignature == nil {
			s.logs[i].TxSignature = &sig
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memStore) ListByMarket(_ context.Context, id uint64, _ domain.ListOpts) ([]domain.ResolutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResolutionLog
	for _, l := range s.logs {
		if l.MarketID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memStore) AttemptStats(_ context.Context, id uint64) (domain.AttemptStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.AttemptStats
	for _, l := range s.logs {
		if l.MarketID != id {
			continue
		}
		st.Attempts++
		at := l.AttemptedAt
		if st.LastAttempted == nil || at.After(*st.LastAttempted) {
			st.LastAttempted = &at
		}
	}
	return st, nil
}

func (s *memStore) ListBefore(context.Context, time.Time) ([]domain.ResolutionLog, error) {
	return nil, nil
}

func (s *memStore) market(id uint64) domain.Market {
	m, _ := s.GetByID(context.Background(), id)
	return m
}

func (s *memStore) logsFor(id uint64) []domain.ResolutionLog {
	out, _ := s.ListByMarket(context.Background(), id, domain.ListOpts{})
	return out
}

type ledgerCall struct {
	op     string
	id     uint64
	yes    bool
	reason string
}

type fakeLedger struct {
	mu        sync.Mutex
	calls     []ledgerCall
	submitErr error
	onLedger  map[uint64]domain.Market
	readErr   error
	nextSig   int
}

func (l *fakeLedger) MarketAccount(_ context.Context, id uint64) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return domain.Market{}, l.readErr
	}
	m, ok := l.onLedger[id]
	if !ok {
		return domain.Market{ID: id, Status: domain.MarketStatusOpen}, nil
	}
	return m, nil
}

func (l *fakeLedger) PositionAccount(context.Context, uint64, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (l *fakeLedger) ConfigAccount(context.Context) (domain.LedgerConfig, error) {
	return domain.LedgerConfig{}, nil
}

func (l *fakeLedger) Resolve(_ context.Context, id uint64, yes bool) (string, error) {
	return l.submit(ledgerCall{op: "resolve", id: id, yes: yes})
}

func (l *fakeLedger) Void(_ context.Context, id uint64, reason string) (string, error) {
	return l.submit(ledgerCall{op: "void", id: id, reason: reason})
}

func (l *fakeLedger) submit(c ledgerCall) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
	if l.submitErr != nil {
		return "", l.submitErr
	}
	l.nextSig++
	return fmt.Sprintf("sig-%d", l.nextSig), nil
}

type fakeRefresher struct {
	resolvedAt int64
	err        error
	calls      int
}

func (r *fakeRefresher) RefreshMarket(_ context.Context, id uint64) (domain.Market, error) {
	r.calls++
	if r.err != nil {
		return domain.Market{}, r.err
	}
	return domain.Market{ID: id, ResolvedAt: r.resolvedAt}, nil
}

type fakeFetcher struct {
	doc   source.Document
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (source.Document, error) {
	f.calls++
	if f.err != nil {
		return source.Document{}, f.err
	}
	d := f.doc
	d.URL = url
	return d, nil
}

type fakeOracle struct {
	mu       sync.Mutex
	decision domain.Decision
	texts    []string
	// entered and gate, when set, hold each call until gate is closed.
	entered chan struct{}
	gate    chan struct{}
}

func (o *fakeOracle) Decide(_ context.Context, _, _, text string) domain.Decision {
	if o.gate != nil {
		o.entered <- struct{}{}
		<-o.gate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, text)
	return o.decision
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (r *recordingAlerts) NotifyEvent(_ context.Context, ev domain.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingAlerts) PublishEvent(_ context.Context, _ string, ev domain.LifecycleEvent) error {
	return r.NotifyEvent(context.Background(), ev)
}

func (r *recordingAlerts) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type memEvidence struct {
	saved map[string][]byte
	err   error
}

func (e *memEvidence) Save(_ context.Context, id uint64, raw []byte, _ string, at time.Time) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	if e.saved == nil {
		e.saved = map[string][]byte{}
	}
	key := fmt.Sprintf("evidence/%d/%d.html", id, at.Unix())
	e.saved[key] = raw
	return key, nil
}

func (e *memEvidence) List(context.Context, uint64) ([]domain.BlobInfo, error) { return nil, nil }

func (e *memEvidence) Open(context.Context, uint64, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}
