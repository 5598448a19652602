// Package ledger reads market accounts from the settlement program and
// submits authority-signed resolve and void instructions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/metrics"
)

const (
	defaultConfirmTimeout  = 60 * time.Second
	defaultPollInterval    = 2 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// Operation names carried by Error.
const (
	OpConfig  = "config"
	OpRead    = "read"
	OpDecode  = "decode"
	OpSubmit  = "submit"
	OpConfirm = "confirm"
)

// Error describes a failed ledger operation.
type Error struct {
	Op       string
	MarketID uint64
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger: %s market %d: %v", e.Op, e.MarketID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RPC is the subset of the JSON-RPC client the ledger uses.
type RPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Client implements domain.Ledger over Solana JSON-RPC.
type Client struct {
	rpc            RPC
	programID      solana.PublicKey
	authority      solana.PrivateKey
	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
	pollInterval   time.Duration
	breaker        *gobreaker.CircuitBreaker
	logger         *slog.Logger
	metrics        *metrics.SettlerMetrics

	breakerFailures uint32
	breakerCooldown time.Duration
}

var _ domain.Ledger = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRPC replaces the JSON-RPC client.
func WithRPC(r RPC) Option {
	return func(c *Client) { c.rpc = r }
}

// WithAuthority sets the signing key. Without it, Resolve and Void fail
// with domain.ErrLedgerDisabled.
func WithAuthority(key solana.PrivateKey) Option {
	return func(c *Client) { c.authority = key }
}

// WithCommitment sets the commitment used for reads and confirmation:
// "confirmed" or "finalized".
func WithCommitment(level string) Option {
	return func(c *Client) {
		switch rpc.CommitmentType(level) {
		case rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
			c.commitment = rpc.CommitmentType(level)
		}
	}
}

// WithConfirmTimeout bounds how long a submitted transaction is polled.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// WithPollInterval sets the signature status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithBreaker trips the RPC circuit after failures consecutive errors.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(c *Client) {
		if failures > 0 {
			c.breakerFailures = uint32(failures)
		}
		if cooldown > 0 {
			c.breakerCooldown = cooldown
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records RPC latency and breaker state.
func WithMetrics(m *metrics.SettlerMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a ledger client for the program at programID.
func NewClient(rpcURL, programID string, opts ...Option) (*Client, error) {
	pid, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid program id %q: %w", programID, err)
	}

	c := &Client{
		programID:       pid,
		commitment:      rpc.CommitmentConfirmed,
		confirmTimeout:  defaultConfirmTimeout,
		pollInterval:    defaultPollInterval,
		logger:          slog.Default(),
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rpc == nil {
		if rpcURL == "" {
			return nil, errors.New("ledger: rpc url is required")
		}
		c.rpc = rpc.New(rpcURL)
	}
	c.logger = c.logger.With(slog.String("component", "ledger"))

	failures := c.breakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-rpc",
		MaxRequests: 1,
		Timeout:     c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, rpc.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			c.metrics.SetBreakerState(name, to.String())
		},
	})
	return c, nil
}

// ProgramID returns the market program address.
func (c *Client) ProgramID() solana.PublicKey { return c.programID }

// BreakerState returns the RPC circuit breaker state.
func (c *Client) BreakerState() string { return c.breaker.State().String() }

// CanSubmit reports whether an authority key is loaded.
func (c *Client) CanSubmit() bool { return len(c.authority) > 0 }

// Authority returns the authority public key, or the zero key.
func (c *Client) Authority() solana.PublicKey {
	if !c.CanSubmit() {
		return solana.PublicKey{}
	}
	return c.authority.PublicKey()
}

// MarketAccount reads and decodes market id.
func (c *Client) MarketAccount(ctx context.Context, id uint64) (domain.Market, error) {
	addr, err := MarketAddress(c.programID, id)
	if err != nil {
		return domain.Market{}, &Error{Op: OpRead, MarketID: id, Err: err}
	}
	data, err := c.readAccount(ctx, addr)
	if err != nil {
		return domain.Market{}, &Error{Op: OpRead, MarketID: id, Err: err}
	}
	acc, err := DecodeMarket(data)
	if err != nil {
		return domain.Market{}, &Error{Op: OpDecode, MarketID: id, Err: err}
	}
	return acc.Domain(addr), nil
}

// PositionAccount reads and decodes the position of wallet in market id.
func (c *Client) PositionAccount(ctx context.Context, id uint64, wallet string) (domain.Position, error) {
	user, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return domain.Position{}, fmt.Errorf("%w: wallet %q: %v", domain.ErrValidation, wallet, err)
	}
	market, err := MarketAddress(c.programID, id)
	if err != nil {
		return domain.Position{}, &Error{Op: OpRead, MarketID: id, Err: err}
	}
	addr, err := PositionAddress(c.programID, market, user)
	if err != nil {
		return domain.Position{}, &Error{Op: OpRead, MarketID: id, Err: err}
	}
	data, err := c.readAccount(ctx, addr)
	if err != nil {
		return domain.Position{}, &Error{Op: OpRead, MarketID: id, Err: err}
	}
	acc, err := DecodePosition(data)
	if err != nil {
		return domain.Position{}, &Error{Op: OpDecode, MarketID: id, Err: err}
	}
	return acc.Domain(id, addr), nil
}

// ConfigAccount reads and decodes the global config.
func (c *Client) ConfigAccount(ctx context.Context) (domain.LedgerConfig, error) {
	addr, err := ConfigAddress(c.programID)
	if err != nil {
		return domain.LedgerConfig{}, &Error{Op: OpRead, Err: err}
	}
	data, err := c.readAccount(ctx, addr)
	if err != nil {
		return domain.LedgerConfig{}, &Error{Op: OpRead, Err: err}
	}
	cfg, err := DecodeConfig(data)
	if err != nil {
		return domain.LedgerConfig{}, &Error{Op: OpDecode, Err: err}
	}
	return cfg, nil
}

// Resolve submits resolve_market and returns the confirmed signature.
func (c *Client) Resolve(ctx context.Context, id uint64, outcomeYes bool) (string, error) {
	return c.settle(ctx, "resolve", id, ResolveMarketData(outcomeYes))
}

// Void submits void_market and returns the confirmed signature. The reason
// is truncated to MaxVoidReasonBytes.
func (c *Client) Void(ctx context.Context, id uint64, reason string) (string, error) {
	return c.settle(ctx, "void", id, VoidMarketData(reason))
}

func (c *Client) settle(ctx context.Context, op string, id uint64, data []byte) (sig string, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordLedgerOp(op, err, time.Since(start)) }()

	if !c.CanSubmit() {
		return "", &Error{Op: OpConfig, MarketID: id, Err: domain.ErrLedgerDisabled}
	}

	accounts, err := c.settlementAccounts(ctx, id)
	if err != nil {
		return "", err
	}
	ix := settlementInstruction(c.programID, accounts, data)

	signature, err := c.submit(ctx, id, ix)
	if err != nil {
		return "", err
	}
	if err := c.confirm(ctx, id, signature); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "settlement confirmed",
		slog.String("op", op),
		slog.Uint64("market_id", id),
		slog.String("signature", signature.String()),
	)
	return signature.String(), nil
}

func (c *Client) settlementAccounts(ctx context.Context, id uint64) (settlementAccounts, error) {
	configAddr, err := ConfigAddress(c.programID)
	if err != nil {
		return settlementAccounts{}, &Error{Op: OpSubmit, MarketID: id, Err: err}
	}
	marketAddr, err := MarketAddress(c.programID, id)
	if err != nil {
		return settlementAccounts{}, &Error{Op: OpSubmit, MarketID: id, Err: err}
	}
	data, err := c.readAccount(ctx, marketAddr)
	if err != nil {
		return settlementAccounts{}, &Error{Op: OpRead, MarketID: id, Err: err}
	}
	creator, err := marketCreator(data)
	if err != nil {
		return settlementAccounts{}, &Error{Op: OpDecode, MarketID: id, Err: err}
	}
	profileAddr, err := CreatorProfileAddress(c.programID, creator)
	if err != nil {
		return settlementAccounts{}, &Error{Op: OpSubmit, MarketID: id, Err: err}
	}
	return settlementAccounts{
		Authority:      c.authority.PublicKey(),
		Config:         configAddr,
		Market:         marketAddr,
		CreatorProfile: profileAddr,
	}, nil
}

func (c *Client) submit(ctx context.Context, id uint64, ix solana.Instruction) (solana.Signature, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return nil, fmt.Errorf("latest blockhash: %w", err)
		}

		payer := c.authority.PublicKey()
		tx, err := solana.NewTransaction([]solana.Instruction{ix}, recent.Value.Blockhash, solana.TransactionPayer(payer))
		if err != nil {
			return nil, fmt.Errorf("build transaction: %w", err)
		}
		if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(payer) {
				return &c.authority
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("sign transaction: %w", err)
		}

		sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: c.commitment,
		})
		if err != nil {
			return nil, fmt.Errorf("send transaction: %w", err)
		}
		return sig, nil
	})
	if err != nil {
		return solana.Signature{}, &Error{Op: OpSubmit, MarketID: id, Err: err}
	}
	return out.(solana.Signature), nil
}

// confirm polls the signature status until it reaches the configured
// commitment, fails on-chain, or the confirm timeout elapses.
func (c *Client) confirm(ctx context.Context, id uint64, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return &Error{Op: OpConfirm, MarketID: id, Err: fmt.Errorf("transaction %s failed: %v", sig, st.Err)}
			}
			if c.reached(st.ConfirmationStatus) {
				return nil
			}
		} else if err != nil {
			c.logger.WarnContext(ctx, "signature status poll failed",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return &Error{Op: OpConfirm, MarketID: id, Err: fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())}
		case <-ticker.C:
		}
	}
}

func (c *Client) reached(status rpc.ConfirmationStatusType) bool {
	if status == rpc.ConfirmationStatusFinalized {
		return true
	}
	return status == rpc.ConfirmationStatusConfirmed && c.commitment != rpc.CommitmentFinalized
}

func (c *Client) readAccount(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
	})
	c.metrics.RecordLedgerOp("read", err, time.Since(start))
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", addr, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}
	res := out.(*rpc.GetAccountInfoResult)
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return nil, fmt.Errorf("account %s: %w", addr, domain.ErrNotFound)
	}
	return res.Value.Data.GetBinary(), nil
}
