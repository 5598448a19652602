package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/metrics"
	"github.com/alanyoungcy/degenbets-settler/internal/pipeline"
	"github.com/alanyoungcy/degenbets-settler/internal/server"
	"github.com/alanyoungcy/degenbets-settler/internal/server/handler"
	"github.com/alanyoungcy/degenbets-settler/internal/service"
	"github.com/alanyoungcy/degenbets-settler/internal/settlement"
)

const (
	apiKey     = "s3cret"
	testWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

type fakeMarkets struct {
	view  service.MarketView
	logs  []domain.ResolutionLog
	quote settlement.ClaimQuote
	err   error
	opts  domain.ListOpts
}

func (f *fakeMarkets) View(context.Context, uint64) (service.MarketView, error) {
	return f.view, f.err
}

func (f *fakeMarkets) Resolutions(_ context.Context, _ uint64, opts domain.ListOpts) ([]domain.ResolutionLog, error) {
	f.opts = opts
	return f.logs, f.err
}

func (f *fakeMarkets) ClaimQuote(_ context.Context, _ uint64, wallet string) (settlement.ClaimQuote, error) {
	if !service.ValidWallet(wallet) {
		return settlement.ClaimQuote{}, fmt.Errorf("market_service: %w: invalid wallet", domain.ErrValidation)
	}
	return f.quote, f.err
}

type syncCall struct {
	id     uint64
	wallet string
	delta  int64
}

type fakeMirror struct {
	calls    []syncCall
	result   service.SyncResult
	position *domain.Position
	err      error
}

func (f *fakeMirror) Sync(_ context.Context, id uint64, wallet string, delta int64) (service.SyncResult, error) {
	f.calls = append(f.calls, syncCall{id, wallet, delta})
	if id == 0 {
		return service.SyncResult{}, fmt.Errorf("mirror_service: %w: market id must be positive", domain.ErrValidation)
	}
	return f.result, f.err
}

func (f *fakeMirror) GetPosition(context.Context, uint64, string) (domain.Position, error) {
	if f.position == nil {
		return domain.Position{}, fmt.Errorf("postgres: %w", domain.ErrNotFound)
	}
	return *f.position, nil
}

type fakeSweeper struct {
	stats    pipeline.SweepStats
	err      error
	sweeps   int
	enqueued int
}

func (f *fakeSweeper) Sweep(context.Context) (pipeline.SweepStats, error) {
	f.sweeps++
	return f.stats, f.err
}

func (f *fakeSweeper) Enqueue() bool {
	f.enqueued++
	return f.enqueued == 1
}

type fakeEvidence struct {
	infos []domain.BlobInfo
	body  string
}

func (f *fakeEvidence) Save(context.Context, uint64, []byte, string, time.Time) (string, error) {
	return "", errors.New("read only")
}

func (f *fakeEvidence) List(context.Context, uint64) ([]domain.BlobInfo, error) {
	return f.infos, nil
}

func (f *fakeEvidence) Open(_ context.Context, id uint64, name string) (io.ReadCloser, error) {
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("s3blob: %w", domain.ErrValidation)
	}
	if name != "1714564800-abc.html" {
		return nil, fmt.Errorf("s3blob: get: %w", domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
	prefix  string
	opts    domain.ListOpts
}

func (f *fakeAudit) List(_ context.Context, prefix string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.prefix, f.opts = prefix, opts
	return f.entries, nil
}

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func (l *countingLimiter) Wait(context.Context, string) error { return nil }

type fixture struct {
	markets  *fakeMarkets
	mirror   *fakeMirror
	sweeper  *fakeSweeper
	evidence *fakeEvidence
	audit    *fakeAudit
	limiter  *countingLimiter
	dbErr    error
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		markets:  &fakeMarkets{},
		mirror:   &fakeMirror{},
		sweeper:  &fakeSweeper{},
		evidence: &fakeEvidence{},
		audit:    &fakeAudit{},
		limiter:  &countingLimiter{},
	}
	health := handler.NewHealthHandler(
		map[string]handler.Check{
			"postgres": func(context.Context) error { return f.dbErr },
			"redis":    func(context.Context) error { return nil },
		},
		map[string]func() string{"oracle": func() string { return "closed" }},
		logger,
	)
	f.handler = server.NewHandler(
		server.Config{APIKey: apiKey, SyncRateLimit: 2, SyncRateWindow: time.Minute},
		server.Handlers{
			Health: health,
			Status: handler.NewStatusHandler(handler.Status{
				Mode:           "full",
				ProgramID:      "8pEfVsAfjmuCLqoH2T5uXQHvUxg3f1sYLjw8mLJydXtW",
				TriggerEnabled: true,
				StartedAt:      time.Now().Add(-time.Minute),
			}),
			Markets: handler.NewMarketHandler(f.markets, f.evidence, logger),
			Sync:    handler.NewSyncHandler(f.mirror, logger),
			Resolve: handler.NewResolveHandler(f.sweeper, logger),
			Audit:   handler.NewAuditHandler(f.audit, logger),
		},
		server.Deps{Metrics: metrics.New(), RateLimiter: f.limiter},
		logger,
	)
	return f
}

func (f *fixture) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"oracle": "closed"}, body["breakers"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	f.dbErr = errors.New("connection refused")
	rec = f.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "full", body["mode"])
	assert.Equal(t, true, body["trigger_enabled"])
	assert.Equal(t, false, body["resolver_running"])
	assert.NotContains(t, body, "authority")
	assert.GreaterOrEqual(t, body["uptime_seconds"].(float64), float64(59))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/health", "")

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `settler_http_requests_total{code="200",method="GET",route="/api/health"}`)
}

func TestTriggerRequiresAPIKey(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/resolve/trigger", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/resolve/trigger", "", "X-API-Key", "wrong").Code)
	assert.Zero(t, f.sweeper.sweeps)
}

func TestTriggerRunsSweep(t *testing.T) {
	f := newFixture(t)
	f.sweeper.stats = pipeline.SweepStats{Attempted: 3, Resolved: 1, Voided: 1, Errors: 1, Skipped: 2}

	rec := f.do(http.MethodPost, "/api/resolve/trigger", "", "Authorization", "Bearer "+apiKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"attempted":3,"resolved":1,"voided":1,"errors":1,"skipped":2}`, rec.Body.String())
	assert.Equal(t, 1, f.sweeper.sweeps)
}

func TestTriggerAsync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/resolve/trigger?async=true", "", "X-API-Key", apiKey)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode(t, rec)["queued"])

	rec = f.do(http.MethodPost, "/api/resolve/trigger?async=true", "", "X-API-Key", apiKey)
	assert.Equal(t, false, decode(t, rec)["queued"])
	assert.Zero(t, f.sweeper.sweeps)
}

func TestTriggerSweepFailure(t *testing.T) {
	f := newFixture(t)
	f.sweeper.err = errors.New("sweeper: list due markets: timeout")

	rec := f.do(http.MethodPost, "/api/resolve/trigger", "", "X-API-Key", apiKey)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "sweep failed", decode(t, rec)["error"])
}

func TestAuditRequiresAPIKey(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/audit", "").Code)
}

func TestAuditListing(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	f.audit.entries = []domain.AuditEntry{
		{ID: 7, Event: "archive.resolution_logs", Detail: map[string]any{"rows": float64(12)}, CreatedAt: at},
		{ID: 6, Event: "archive.resolution_logs", CreatedAt: at.Add(-time.Hour)},
	}

	rec := f.do(http.MethodGet, "/api/audit?event=archive.&limit=2&since=2026-05-01T00:00:00Z", "", "X-API-Key", apiKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "archive.", f.audit.prefix)
	assert.Equal(t, 2, f.audit.opts.Limit)
	require.NotNil(t, f.audit.opts.Since)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), *f.audit.opts.Since)

	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, float64(7), first["id"])
	assert.Equal(t, map[string]any{"rows": float64(12)}, first["detail"])
	assert.NotContains(t, entries[1].(map[string]any), "detail")
}

func TestListParamsValidation(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"limit=0", "limit=x", "offset=-1", "since=yesterday", "since=200&until=100"} {
		t.Run(q, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/api/audit?"+q, "", "X-API-Key", apiKey)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(http.MethodGet, "/api/markets/5/resolutions?limit=100000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, f.markets.opts.Limit)
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	f.mirror.result = service.SyncResult{
		Market:   domain.Market{ID: 4, Status: domain.MarketStatusOpen, YesReserve: 10, NoReserve: 30},
		Position: &domain.Position{MarketID: 4, Wallet: testWallet, YesShares: 7, CostBasis: 1500},
	}

	rec := f.do(http.MethodPost, "/api/sync",
		`{"marketId":4,"userWallet":"`+testWallet+`","costBasisDelta":-250}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []syncCall{{4, testWallet, -250}}, f.mirror.calls)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{
		"yes_shares": float64(7), "no_shares": float64(0), "claimed": false, "cost_basis": float64(1500),
	}, body["position"])
	assert.Nil(t, body["market"].(map[string]any)["outcome"])
}

func TestSyncAcceptsStringMarketID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/sync", `{"marketId":"12","userWallet":"`+testWallet+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []syncCall{{12, testWallet, 0}}, f.mirror.calls)
	assert.Nil(t, decode(t, rec)["position"])
}

func TestSyncValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"missing wallet", `{"marketId":1}`},
		{"missing market", `{"userWallet":"` + testWallet + `"}`},
		{"negative market", `{"marketId":-1,"userWallet":"` + testWallet + `"}`},
		{"fractional market", `{"marketId":1.5,"userWallet":"` + testWallet + `"}`},
		{"zero market", `{"marketId":0,"userWallet":"` + testWallet + `"}`},
		{"bad delta", `{"marketId":1,"userWallet":"` + testWallet + `","costBasisDelta":0.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/api/sync", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSyncMapsErrors(t *testing.T) {
	f := newFixture(t)

	f.mirror.err = fmt.Errorf("mirror_service: sync market 9: read market: %w", domain.ErrNotFound)
	rec := f.do(http.MethodPost, "/api/sync", `{"marketId":9,"userWallet":"`+testWallet+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.mirror.err = errors.New("ledger: read market 9: rpc unavailable")
	rec = f.do(http.MethodPost, "/api/sync", `{"marketId":9,"userWallet":"`+testWallet+`"}`, "X-Forwarded-For", "10.0.0.9")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "sync failed", decode(t, rec)["error"])
}

func TestSyncRateLimited(t *testing.T) {
	f := newFixture(t)
	body := `{"marketId":1,"userWallet":"` + testWallet + `"}`

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sync", body, "X-Forwarded-For", "1.2.3.4").Code)
	}
	rec := f.do(http.MethodPost, "/api/sync", body, "X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Other clients are unaffected.
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sync", body, "X-Forwarded-For", "5.6.7.8").Code)
}

func TestSyncRateLimiterFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.limiter.err = errors.New("redis down")
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK,
			f.do(http.MethodPost, "/api/sync", `{"marketId":1,"userWallet":"`+testWallet+`"}`).Code)
	}
}

func TestGetSyncPosition(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/sync/position?marketId=3&wallet="+testWallet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"position":null}`, rec.Body.String())

	f.mirror.position = &domain.Position{YesShares: 1, NoShares: 2, Claimed: true, CostBasis: 3}
	rec = f.do(http.MethodGet, "/api/sync/position?marketId=3&wallet="+testWallet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"position":{"yes_shares":1,"no_shares":2,"claimed":true,"cost_basis":3}}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/sync/position?marketId=3", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/sync/position?marketId=x&wallet=w", "").Code)
}

func TestGetMarket(t *testing.T) {
	f := newFixture(t)
	m := domain.Market{
		ID: 5, Status: domain.MarketStatusResolved, Outcome: domain.OutcomeNo,
		YesReserve: 3, NoReserve: 5, TotalMinted: 10, TreasuryFee: 1, CreatorFee: 1, ResolvedAt: 1_700_000_000,
	}
	f.markets.view = service.MarketView{
		Market:  m,
		Summary: settlement.Summarize(m, domain.LedgerConfig{ChallengePeriod: 3600}, time.Unix(1_700_000_100, 0)),
	}

	rec := f.do(http.MethodGet, "/api/markets/5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(5), body["market_id"])
	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, "no", body["outcome"])
	assert.Equal(t, float64(6250), body["price_yes"])
	assert.Equal(t, float64(8), body["prize_pool"])
	assert.Equal(t, "0.000000008", body["prize_pool_sol"])
	assert.Equal(t, true, body["challenge_active"])
	assert.Equal(t, float64(1_700_003_600), body["challenge_ends_at"])
}

func TestGetMarketErrors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/markets/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/markets/-2", "").Code)

	f.markets.err = fmt.Errorf("market_service: get by id 5: %w", domain.ErrNotFound)
	rec := f.do(http.MethodGet, "/api/markets/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.markets.err = errors.New("postgres: connection reset")
	rec = f.do(http.MethodGet, "/api/markets/5", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to get market", decode(t, rec)["error"])
}

func TestListResolutions(t *testing.T) {
	f := newFixture(t)
	sig := "5xSig"
	f.markets.logs = []domain.ResolutionLog{{
		ID: 2, MarketID: 5, AIDecision: domain.DecisionYes, Confidence: 0.9, TxSignature: &sig,
		AttemptedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}}

	rec := f.do(http.MethodGet, "/api/markets/5/resolutions?limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ListOpts{Limit: 10, Offset: 5}, f.markets.opts)

	body := decode(t, rec)
	list := body["resolutions"].([]any)
	require.Len(t, list, 1)
	row := list[0].(map[string]any)
	assert.Equal(t, "yes", row["ai_decision"])
	assert.Equal(t, "5xSig", row["tx_signature"])
	assert.Nil(t, row["error_message"])
}

func TestClaimQuote(t *testing.T) {
	f := newFixture(t)
	f.markets.quote = settlement.ClaimQuote{
		MarketID: 5, Wallet: testWallet, Status: domain.MarketStatusResolved, Outcome: domain.OutcomeYes,
		Winner: true, Winnings: 1_500_000_000, ChallengeActive: true, ChallengeEndsAt: 1_700_003_600,
		Reason: "challenge_active",
	}

	rec := f.do(http.MethodGet, "/api/markets/5/claim?wallet="+testWallet, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "1.5", body["winnings_sol"])
	assert.Equal(t, "0", body["refund_sol"])
	assert.Equal(t, false, body["claimable"])
	assert.Equal(t, "challenge_active", body["reason"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/markets/5/claim", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/markets/5/claim?wallet=0xabc", "").Code)
}

func TestClaimConflictMapping(t *testing.T) {
	f := newFixture(t)
	f.markets.err = fmt.Errorf("claim: %w", domain.ErrChallengeActive)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/api/markets/5/claim?wallet="+testWallet, "").Code)

	f.markets.err = fmt.Errorf("claim: %w", domain.ErrAlreadyClaimed)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/api/markets/5/claim?wallet="+testWallet, "").Code)
}

func TestEvidence(t *testing.T) {
	f := newFixture(t)
	f.evidence.infos = []domain.BlobInfo{{
		Path: "evidence/5/1714564800-abc.html", Size: 12, ContentType: "text/html",
		LastModified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}
	f.evidence.body = "<p>launched</p>"

	rec := f.do(http.MethodGet, "/api/markets/5/evidence", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["evidence"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "1714564800-abc.html", list[0].(map[string]any)["name"])

	rec = f.do(http.MethodGet, "/api/markets/5/evidence/1714564800-abc.html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>launched</p>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "sandbox", rec.Header().Get("Content-Security-Policy"))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/markets/5/evidence/missing.html", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/markets/5/evidence/..html", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodOptions, "/api/sync", "",
		"Origin", "https://degenbets.example",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://degenbets.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	rec = f.do(http.MethodGet, "/api/health", "", "Origin", "https://degenbets.example")
	assert.Equal(t, "https://degenbets.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/health", "", "X-Request-ID", "req-123")
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
