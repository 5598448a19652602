package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/source"
)

var sweepNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func dueMarket(id uint64, deadlineAgo time.Duration) domain.Market {
	return domain.Market{
		ID:                  id,
		Question:            "Will the launch happen by April 30?",
		ResolutionSource:    "https://news.example.com/launch",
		ResolutionTimestamp: sweepNow.Add(-deadlineAgo).Unix(),
		Status:              domain.MarketStatusOpen,
	}
}

type sweepFixture struct {
	store     *memStore
	ledger    *fakeLedger
	refresher *fakeRefresher
	fetcher   *fakeFetcher
	oracle    *fakeOracle
	alerts    *recordingAlerts
	events    *recordingAlerts
	evidence  *memEvidence
	audit     *memAudit
	sweeper   *ResolutionSweeper
}

func newSweepFixture(cfg SweeperConfig, markets ...domain.Market) *sweepFixture {
	f := &sweepFixture{
		store:     newMemStore(markets...),
		ledger:    &fakeLedger{},
		refresher: &fakeRefresher{},
		fetcher:   &fakeFetcher{doc: source.Document{Raw: []byte("<p>launched</p>"), Text: "launched", ContentType: "text/html"}},
		oracle:    &fakeOracle{decision: domain.Decision{Kind: domain.DecisionYes, Confidence: 0.95, Reasoning: "The source confirms the launch."}},
		alerts:    &recordingAlerts{},
		events:    &recordingAlerts{},
		evidence:  &memEvidence{},
		audit:     &memAudit{},
	}
	f.sweeper = NewResolutionSweeper(SweeperDeps{
		Markets:  f.store,
		Logs:     f.store,
		Ledger:   f.ledger,
		Mirror:   f.refresher,
		Fetcher:  f.fetcher,
		Oracle:   f.oracle,
		Evidence: f.evidence,
		Events:   f.events,
		Alerts:   f.alerts,
		Audit:    f.audit,
	}, cfg, discardLogger())
	f.sweeper.now = func() time.Time { return sweepNow }
	return f
}

func TestSweepResolvesYes(t *testing.T) {
	f := newSweepFixture(SweeperConfig{Evidence: true}, dueMarket(1, time.Hour))
	f.refresher.resolvedAt = sweepNow.Unix() + 3

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Attempted: 1, Resolved: 1}, stats)

	m := f.store.market(1)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeYes, m.Outcome)
	assert.Equal(t, sweepNow.Unix()+3, m.ResolvedAt)
	assert.Equal(t, "The source confirms the launch.", m.AIReasoning)

	require.Equal(t, []ledgerCall{{op: "resolve", id: 1, yes: true}}, f.ledger.calls)

	logs := f.store.logsFor(1)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].TxSignature)
	assert.Equal(t, "sig-1", *logs[0].TxSignature)
	assert.Nil(t, logs[0].ErrorMessage)
	assert.Equal(t, "launched", logs[0].SourceText)
	require.NotNil(t, logs[0].EvidencePath)
	assert.Contains(t, f.evidence.saved, *logs[0].EvidencePath)

	assert.Equal(t, []string{domain.EventMarketResolved}, f.alerts.types())
	assert.Equal(t, []string{domain.EventMarketResolved, domain.EventSweepCompleted}, f.events.types())
}

func TestSweepResolvesNoAndFallsBackToNow(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.oracle.decision = domain.Decision{Kind: domain.DecisionNo, Confidence: 0.9, Reasoning: "Did not launch."}
	f.refresher.err = errors.New("rpc down")

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)

	m := f.store.market(1)
	assert.Equal(t, domain.OutcomeNo, m.Outcome)
	assert.Equal(t, sweepNow.Unix(), m.ResolvedAt)
	assert.False(t, f.ledger.calls[0].yes)
}

func TestSweepVoids(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.oracle.decision = domain.Decision{Kind: domain.DecisionVoid, Confidence: 0.6, Reasoning: "Source is ambiguous."}

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Attempted: 1, Voided: 1}, stats)

	m := f.store.market(1)
	assert.Equal(t, domain.MarketStatusVoided, m.Status)
	assert.Equal(t, domain.OutcomeNone, m.Outcome)
	assert.Equal(t, []ledgerCall{{op: "void", id: 1, reason: "Source is ambiguous."}}, f.ledger.calls)
	require.NotNil(t, f.store.logsFor(1)[0].TxSignature)
	assert.Equal(t, 1, f.refresher.calls)
}

func TestSweepErrorDecisionLeavesMarketOpen(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.oracle.decision = domain.ErrorDecision("AI API error: status 529")

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Attempted: 1, Errors: 1}, stats)

	assert.Equal(t, domain.MarketStatusOpen, f.store.market(1).Status)
	assert.Empty(t, f.ledger.calls)

	logs := f.store.logsFor(1)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DecisionError, logs[0].AIDecision)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "AI API error: status 529", *logs[0].ErrorMessage)
	assert.Nil(t, logs[0].TxSignature)
}

func TestSweepRecordsHTTP500FromSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := dueMarket(1, time.Hour)
	m.ResolutionSource = srv.URL + "/result"
	f := newSweepFixture(SweeperConfig{}, m)
	f.sweeper.deps.Fetcher = source.NewFetcher()
	f.oracle.decision = domain.Decision{Kind: domain.DecisionVoid, Confidence: 0.5, Reasoning: "Source unavailable."}

	_, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, f.oracle.texts, 1)
	assert.Contains(t, f.oracle.texts[0], "[FETCH ERROR: HTTP 500")

	logs := f.store.logsFor(1)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Contains(t, *logs[0].ErrorMessage, "HTTP 500")
	assert.Nil(t, logs[0].EvidencePath)
}

func TestSweepCombinesFetchAndOracleErrors(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.fetcher.err = &source.FetchError{Kind: source.KindTimeout, URL: "https://news.example.com/launch"}
	f.oracle.decision = domain.ErrorDecision("Failed to parse AI response: nope")

	_, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	msg := f.store.logsFor(1)[0].ErrorMessage
	require.NotNil(t, msg)
	assert.Equal(t, "Timeout fetching https://news.example.com/launch; Failed to parse AI response: nope", *msg)
}

func TestSweepLedgerFailureLeavesMarketOpen(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour), dueMarket(2, 30*time.Minute))
	f.ledger.submitErr = errors.New("ledger: submit market 1: blockhash not found")

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Attempted: 2, Errors: 2}, stats)

	for _, id := range []uint64{1, 2} {
		assert.Equal(t, domain.MarketStatusOpen, f.store.market(id).Status)
		logs := f.store.logsFor(id)
		require.Len(t, logs, 1)
		assert.Nil(t, logs[0].TxSignature)
	}
	assert.Equal(t, []string{domain.EventLedgerError, domain.EventLedgerError}, f.alerts.types())
}

func TestSweepRetryIsIdempotent(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))

	_, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)

	// A stale due list from an overlapping sweep is skipped on re-check.
	f.store.stale = []domain.Market{dueMarket(1, time.Hour)}
	stats, err = f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Skipped: 1}, stats)

	assert.Len(t, f.ledger.calls, 1)
	assert.Len(t, f.store.logsFor(1), 1)
}

func TestSweepSkipsMarketsNotYetDue(t *testing.T) {
	future := dueMarket(1, -time.Hour)
	f := newSweepFixture(SweeperConfig{}, future)
	f.store.stale = []domain.Market{future}

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Skipped: 1}, stats)
	assert.Zero(t, f.fetcher.calls)
}

func TestSweepOrdersByDeadlineAndHonoursBatchSize(t *testing.T) {
	f := newSweepFixture(SweeperConfig{BatchSize: 2},
		dueMarket(1, time.Minute), dueMarket(2, 3*time.Hour), dueMarket(3, 2*time.Hour))

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Resolved)
	require.Len(t, f.ledger.calls, 2)
	assert.Equal(t, uint64(2), f.ledger.calls[0].id)
	assert.Equal(t, uint64(3), f.ledger.calls[1].id)
}

func TestSweepStuckAlertOnMultiplesOfMaxAttempts(t *testing.T) {
	f := newSweepFixture(SweeperConfig{MaxAttempts: 2}, dueMarket(1, time.Hour))
	f.oracle.decision = domain.ErrorDecision("AI API error: circuit breaker is open")

	for i := 0; i < 5; i++ {
		_, err := f.sweeper.Sweep(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{domain.EventResolutionStuck, domain.EventResolutionStuck}, f.alerts.types())
	assert.Len(t, f.store.logsFor(1), 5)
	assert.Equal(t, domain.MarketStatusOpen, f.store.market(1).Status)
}

func TestSweepRetryBackoff(t *testing.T) {
	f := newSweepFixture(SweeperConfig{RetryBackoff: 10 * time.Minute}, dueMarket(1, time.Hour))
	f.oracle.decision = domain.ErrorDecision("AI API error: status 500")

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Attempted)

	stats, err = f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Skipped: 1}, stats)

	f.sweeper.now = func() time.Time { return sweepNow.Add(11 * time.Minute) }
	stats, err = f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Attempted)
}

func TestSweepReconcilesMarketSettledOnLedger(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.ledger.onLedger = map[uint64]domain.Market{
		1: {ID: 1, Status: domain.MarketStatusResolved, Outcome: domain.OutcomeNo, ResolvedAt: sweepNow.Unix() - 30},
	}

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Skipped: 1}, stats)

	m := f.store.market(1)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeNo, m.Outcome)
	assert.Equal(t, sweepNow.Unix()-30, m.ResolvedAt)
	assert.Zero(t, f.fetcher.calls)
	assert.Empty(t, f.ledger.calls)
	assert.Empty(t, f.store.logsFor(1))
	assert.Equal(t, []string{"market_reconciled"}, f.audit.events)
	assert.Equal(t, []string{domain.EventLedgerError}, f.alerts.types())
}

func TestSweepProceedsWhenLedgerPrecheckFails(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.ledger.readErr = errors.New("rpc timeout")

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
}

func TestSweepEvidenceFailureIsNotFatal(t *testing.T) {
	f := newSweepFixture(SweeperConfig{Evidence: true}, dueMarket(1, time.Hour))
	f.evidence.err = errors.New("bucket gone")

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.Nil(t, f.store.logsFor(1)[0].EvidencePath)
}

func TestSweepStopsBetweenMarketsOnCancel(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour), dueMarket(2, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.sweeper.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, SweepStats{}, stats)
	assert.Empty(t, f.ledger.calls)
}

func TestEveryAttemptWritesExactlyOneLog(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour), dueMarket(2, time.Hour), dueMarket(3, time.Hour))
	f.oracle.decision = domain.ErrorDecision("AI_API_KEY not configured")

	stats, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Attempted)
	assert.Len(t, f.store.logs, stats.Attempted)
}

func TestEnqueueCoalesces(t *testing.T) {
	f := newSweepFixture(SweeperConfig{})
	assert.True(t, f.sweeper.Enqueue())
	assert.False(t, f.sweeper.Enqueue())
}

func TestRunSweepsOnEnqueue(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.oracle.decision = domain.ErrorDecision("AI API error: status 500")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sweeper.Run(ctx, "", time.Hour) }()

	require.Eventually(t, func() bool { return len(f.store.logsFor(1)) == 1 }, time.Second, 5*time.Millisecond)
	f.sweeper.Enqueue()
	require.Eventually(t, func() bool { return len(f.store.logsFor(1)) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunRejectsBadSchedule(t *testing.T) {
	f := newSweepFixture(SweeperConfig{})
	assert.Error(t, f.sweeper.Run(context.Background(), "every five minutes", 0))
	assert.Error(t, f.sweeper.Run(context.Background(), "", 0))
}

func TestConcurrentSweepsSubmitOnce(t *testing.T) {
	f := newSweepFixture(SweeperConfig{}, dueMarket(1, time.Hour))
	f.oracle.entered = make(chan struct{}, 2)
	f.oracle.gate = make(chan struct{})

	first := make(chan SweepStats, 1)
	go func() {
		stats, _ := f.sweeper.sweep(context.Background(), "schedule")
		first <- stats
	}()
	<-f.oracle.entered

	second := make(chan SweepStats, 1)
	go func() {
		stats, _ := f.sweeper.Sweep(context.Background())
		second <- stats
	}()

	// The manual sweep waits for the scheduled one instead of racing it.
	select {
	case <-f.oracle.entered:
		t.Fatal("second sweep reached the oracle while the first was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(f.oracle.gate)

	assert.Equal(t, SweepStats{Attempted: 1, Resolved: 1}, <-first)
	assert.Equal(t, SweepStats{}, <-second)
	assert.Equal(t, []ledgerCall{{op: "resolve", id: 1, yes: true}}, f.ledger.calls)
	assert.NotContains(t, f.alerts.types(), domain.EventLedgerError)
}

func TestSweepWaitingForActiveSweepHonoursContext(t *testing.T) {
	f := newSweepFixture(SweeperConfig{})
	f.sweeper.active <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.sweeper.Sweep(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
