// Package notify sends settlement alerts to operators over Telegram and
// Discord. Alerts are filtered by event type (market_resolved, market_voided,
// resolution_stuck, ledger_error) before they reach any sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// Severity colours an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Field is one labelled line of an alert.
type Field struct {
	Name  string
	Value string
}

// Alert is a rendered notification.
type Alert struct {
	Event    string
	Title    string
	Severity Severity
	Fields   []Field
	// Link points at the settlement transaction in a block explorer, if any.
	Link string
	At   time.Time
}

// Sender delivers alerts to one channel.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// SenderOption customises a Sender.
type SenderOption func(*senderOptions)

type senderOptions struct {
	client  *http.Client
	baseURL string
}

// WithHTTPClient sets the HTTP client used by a sender.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(o *senderOptions) { o.client = c }
}

// WithBaseURL overrides the Bot API base URL of a TelegramSender.
func WithBaseURL(u string) SenderOption {
	return func(o *senderOptions) { o.baseURL = strings.TrimRight(u, "/") }
}

func applySenderOptions(baseURL string, opts []SenderOption) senderOptions {
	o := senderOptions{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option customises a Notifier.
type Option func(*Notifier)

// WithExplorerCluster makes alerts link settlement signatures to the Solana
// explorer for the given cluster ("devnet", "testnet"; "" is mainnet).
func WithExplorerCluster(cluster string) Option {
	return func(n *Notifier) {
		n.explorer = true
		n.cluster = cluster
	}
}

// ClusterFromRPC guesses the explorer cluster from an RPC endpoint URL.
func ClusterFromRPC(rpcURL string) string {
	u := strings.ToLower(rpcURL)
	switch {
	case strings.Contains(u, "devnet"):
		return "devnet"
	case strings.Contains(u, "testnet"):
		return "testnet"
	case strings.Contains(u, "localhost"), strings.Contains(u, "127.0.0.1"):
		return "custom"
	default:
		return ""
	}
}

// Notifier fans alerts out to every sender. An empty event list lets every
// event through.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	explorer bool
	cluster  string
	now      func() time.Time
	logger   *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders: senders,
		events:  allowed,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyEvent renders a lifecycle event and sends it if its type passes the
// filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.LifecycleEvent) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Type))
		return nil
	}
	return n.Send(ctx, n.render(ev))
}

// Send delivers an alert to every sender, bypassing the event filter. One
// failing sender does not stop the others.
func (n *Notifier) Send(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = n.now().UTC()
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", alert.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", alert.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) render(ev domain.LifecycleEvent) Alert {
	a := Alert{Event: ev.Type, At: ev.OccurredAt}

	switch ev.Type {
	case domain.EventMarketResolved:
		a.Title = fmt.Sprintf("Market %d resolved %s", ev.MarketID, strings.ToUpper(string(ev.Decision)))
		a.Severity = SeverityInfo
	case domain.EventMarketVoided:
		a.Title = fmt.Sprintf("Market %d voided", ev.MarketID)
		a.Severity = SeverityWarning
	case domain.EventResolutionStuck:
		a.Title = fmt.Sprintf("Market %d resolution stuck", ev.MarketID)
		a.Severity = SeverityWarning
	case domain.EventLedgerError:
		a.Title = fmt.Sprintf("Ledger error on market %d", ev.MarketID)
		a.Severity = SeverityError
	default:
		a.Title = ev.Type
	}

	if ev.Signature != "" {
		a.Fields = append(a.Fields, Field{Name: "signature", Value: ev.Signature})
		if n.explorer {
			a.Link = explorerTxURL(ev.Signature, n.cluster)
		}
	}
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		a.Fields = append(a.Fields, Field{Name: k, Value: fmt.Sprint(ev.Payload[k])})
	}
	return a
}

func explorerTxURL(signature, cluster string) string {
	u := "https://explorer.solana.com/tx/" + signature
	if cluster != "" {
		u += "?cluster=" + cluster
	}
	return u
}
