package domain

import "context"

// LedgerConfig holds the global program parameters owned by the ledger.
// Durations are in seconds.
type LedgerConfig struct {
	Authority       string
	Treasury        string
	MinLiquidity    uint64
	TreasuryRakeBps uint16
	CreatorRakeBps  uint16
	MarketCount     uint64
	Paused          bool
	MinTrade        uint64
	BettingCutoff   int64
	ChallengePeriod int64
	SwapFeeBps      uint16
}

// Ledger reads canonical accounts from the settlement ledger and submits
// authority-signed settlement instructions. Reads return ErrNotFound when the
// account does not exist.
type Ledger interface {
	MarketAccount(ctx context.Context, marketID uint64) (Market, error)
	PositionAccount(ctx context.Context, marketID uint64, wallet string) (Position, error)
	ConfigAccount(ctx context.Context) (LedgerConfig, error)

	// Resolve and Void return the confirmed transaction signature.
	Resolve(ctx context.Context, marketID uint64, outcomeYes bool) (string, error)
	Void(ctx context.Context, marketID uint64, reason string) (string, error)
}
