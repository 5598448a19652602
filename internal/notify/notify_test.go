package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/notify"
)

type recordingSender struct {
	alerts []notify.Alert
	err    error
}

func (r *recordingSender) Send(_ context.Context, a notify.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEventFiltersAndRenders(t *testing.T) {
	rec := &recordingSender{}
	n := notify.NewNotifier([]notify.Sender{rec},
		[]string{domain.EventMarketResolved, " " + domain.EventResolutionStuck},
		discardLogger(), notify.WithExplorerCluster("devnet"))
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.LifecycleEvent{
		Type: domain.EventMarketResolved, MarketID: 5, Decision: domain.DecisionYes, Signature: "sig",
		Payload: map[string]any{"confidence": 0.9, "attempts": 2},
	}))
	require.NoError(t, n.NotifyEvent(ctx, domain.LifecycleEvent{Type: domain.EventSweepCompleted}))
	require.NoError(t, n.NotifyEvent(ctx, domain.LifecycleEvent{Type: domain.EventResolutionStuck, MarketID: 9}))

	require.Len(t, rec.alerts, 2)
	a := rec.alerts[0]
	assert.Equal(t, "Market 5 resolved YES", a.Title)
	assert.Equal(t, notify.SeverityInfo, a.Severity)
	assert.Equal(t, []notify.Field{
		{Name: "signature", Value: "sig"},
		{Name: "attempts", Value: "2"},
		{Name: "confidence", Value: "0.9"},
	}, a.Fields)
	assert.Equal(t, "https://explorer.solana.com/tx/sig?cluster=devnet", a.Link)
	assert.False(t, a.At.IsZero())

	assert.Equal(t, notify.SeverityWarning, rec.alerts[1].Severity)
	assert.Empty(t, rec.alerts[1].Link)
}

func TestNotifierWithoutExplorerHasNoLink(t *testing.T) {
	rec := &recordingSender{}
	n := notify.NewNotifier([]notify.Sender{rec}, nil, discardLogger())
	require.NoError(t, n.NotifyEvent(context.Background(), domain.LifecycleEvent{
		Type: domain.EventLedgerError, MarketID: 3, Signature: "sig",
	}))
	require.Len(t, rec.alerts, 1)
	assert.Empty(t, rec.alerts[0].Link)
	assert.Equal(t, notify.SeverityError, rec.alerts[0].Severity)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{}
	down := errors.New("down")
	bad := &recordingSender{err: down}
	n := notify.NewNotifier([]notify.Sender{bad, ok}, nil, discardLogger())

	err := n.Send(context.Background(), notify.Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.ErrorIs(t, err, down)
	assert.Len(t, ok.alerts, 1)
}

func TestClusterFromRPC(t *testing.T) {
	assert.Equal(t, "devnet", notify.ClusterFromRPC("https://api.devnet.solana.com"))
	assert.Equal(t, "testnet", notify.ClusterFromRPC("https://api.testnet.solana.com"))
	assert.Equal(t, "custom", notify.ClusterFromRPC("http://localhost:8899"))
	assert.Equal(t, "", notify.ClusterFromRPC("https://api.mainnet-beta.solana.com"))
}

func TestTelegramSenderEscapesHTML(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := notify.NewTelegramSender("TOKEN", "42", notify.WithBaseURL(srv.URL), notify.WithHTTPClient(srv.Client()))
	require.NoError(t, s.Send(context.Background(), notify.Alert{
		Title:    "Market 1 voided",
		Severity: notify.SeverityWarning,
		Fields:   []notify.Field{{Name: "reason", Value: "price <b>& volume</b>"}},
		Link:     "https://explorer.solana.com/tx/abc?cluster=devnet",
	}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	text := got["text"].(string)
	assert.Contains(t, text, "<b>Market 1 voided</b>")
	assert.Contains(t, text, "price &lt;b&gt;&amp; volume&lt;/b&gt;")
	assert.Contains(t, text, `<a href="https://explorer.solana.com/tx/abc?cluster=devnet">`)
}

func TestTelegramSenderHidesTokenOnTransportError(t *testing.T) {
	s := notify.NewTelegramSender("SECRET123", "42", notify.WithBaseURL("http://127.0.0.1:1"))
	err := s.Send(context.Background(), notify.Alert{Title: "t"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET123")
}

func TestDiscordSenderEmbed(t *testing.T) {
	var got struct {
		Embeds []struct {
			Title  string `json:"title"`
			URL    string `json:"url"`
			Color  int    `json:"color"`
			Fields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"embeds"`
		AllowedMentions struct {
			Parse []string `json:"parse"`
		} `json:"allowed_mentions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := notify.NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), notify.Alert{
		Title:    "Ledger error on market 2",
		Severity: notify.SeverityError,
		Fields:   []notify.Field{{Name: "error", Value: strings.Repeat("x", 2000)}},
	}))
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "Ledger error on market 2", e.Title)
	assert.Equal(t, 0xe74c3c, e.Color)
	require.Len(t, e.Fields, 1)
	assert.LessOrEqual(t, len(e.Fields[0].Value), 1024)
	assert.NotNil(t, got.AllowedMentions.Parse)
	assert.Empty(t, got.AllowedMentions.Parse)
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := notify.NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), notify.Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}
