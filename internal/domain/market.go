package domain

import (
	"math/big"
	"time"
)

// MarketStatus represents the lifecycle state of a market. Transitions are
// one-way: open -> resolved or open -> voided.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusVoided   MarketStatus = "voided"
)

// Terminal reports whether the status can no longer change.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusResolved || s == MarketStatusVoided
}

// Outcome is the resolved side of a market. It is meaningful only when the
// market status is resolved.
type Outcome int8

const (
	OutcomeNone Outcome = iota
	OutcomeYes
	OutcomeNo
)

// OutcomeFromBool maps the ledger's boolean outcome (true = YES).
func OutcomeFromBool(yes bool) Outcome {
	if yes {
		return OutcomeYes
	}
	return OutcomeNo
}

// String returns "yes", "no" or "" for OutcomeNone.
func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	default:
		return ""
	}
}

// Market is the mirrored state of one prediction question. Amounts are in
// lamports; shares are integer units.
type Market struct {
	ID                  uint64
	Pubkey              string
	Creator             string
	Question            string
	ResolutionSource    string
	ResolutionTimestamp int64

	YesReserve       uint64
	NoReserve        uint64
	TotalMinted      uint64
	InitialLiquidity uint64
	SwapFeeBps       uint16
	TreasuryFee      uint64
	CreatorFee       uint64

	Status             MarketStatus
	Outcome            Outcome
	ResolvedAt         int64
	AIReasoning        string
	CreatorFeeClaimed  bool
	TreasuryFeeClaimed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deadline returns the resolution timestamp as a time.Time.
func (m Market) Deadline() time.Time {
	return time.Unix(m.ResolutionTimestamp, 0).UTC()
}

// IsDue reports whether the market is open and its deadline has passed.
func (m Market) IsDue(now time.Time) bool {
	return m.Status == MarketStatusOpen && m.ResolutionTimestamp <= now.Unix()
}

// WinningReserve returns the reserve of the winning side, or 0 when the
// market is not resolved.
func (m Market) WinningReserve() uint64 {
	switch {
	case m.Status != MarketStatusResolved:
		return 0
	case m.Outcome == OutcomeYes:
		return m.YesReserve
	case m.Outcome == OutcomeNo:
		return m.NoReserve
	default:
		return 0
	}
}

// PriceYesBps is the implied YES price in basis points derived from the
// reserves. An empty pool prices at 50%.
func (m Market) PriceYesBps() uint64 {
	if m.YesReserve == 0 && m.NoReserve == 0 {
		return 5000
	}
	// Reserves near the u64 limit overflow both the sum and the product.
	total := new(big.Int).SetUint64(m.YesReserve)
	total.Add(total, new(big.Int).SetUint64(m.NoReserve))
	num := new(big.Int).SetUint64(m.NoReserve)
	num.Mul(num, big.NewInt(10_000))
	return num.Quo(num, total).Uint64()
}
