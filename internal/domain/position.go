package domain

import "time"

// Position is one wallet's stake in one market, identified by the
// (MarketID, Wallet) pair. CostBasis is tracked off-ledger.
type Position struct {
	MarketID  uint64
	Wallet    string
	Pubkey    string
	YesShares uint64
	NoShares  uint64
	Claimed   bool
	CostBasis uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalShares returns yes + no shares.
func (p Position) TotalShares() uint64 {
	return p.YesShares + p.NoShares
}

// Empty reports whether the position holds no shares on either side.
func (p Position) Empty() bool {
	return p.YesShares == 0 && p.NoShares == 0
}
