package settlement

import (
	"errors"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// lamportsPerSOLExp is the base-10 exponent between lamports and SOL.
const lamportsPerSOLExp = -9

// ClaimQuote is what a wallet can claim from one market right now.
type ClaimQuote struct {
	MarketID        uint64
	Wallet          string
	Status          domain.MarketStatus
	Outcome         domain.Outcome
	Winner          bool
	Winnings        uint64
	Refund          uint64
	CreatorPayout   uint64
	Claimed         bool
	ChallengeActive bool
	ChallengeEndsAt int64
	Claimable       bool
	Reason          string
}

// Amount returns the payout the quote refers to: winnings on a resolved
// market, the refund on a voided one.
func (q ClaimQuote) Amount() uint64 {
	if q.Status == domain.MarketStatusVoided {
		return q.Refund
	}
	return q.Winnings
}

// Quote assembles a ClaimQuote for the position at the given time. The
// creator payout is filled in only when the wallet created the market.
func Quote(p domain.Position, m domain.Market, cfg domain.LedgerConfig, now time.Time) ClaimQuote {
	q := ClaimQuote{
		MarketID:        m.ID,
		Wallet:          p.Wallet,
		Status:          m.Status,
		Outcome:         m.Outcome,
		Winner:          IsWinner(p, m),
		Winnings:        Winnings(p, m),
		Refund:          Refund(p, m),
		Claimed:         p.Claimed,
		ChallengeActive: ChallengeActive(m, cfg, now),
		ChallengeEndsAt: ChallengeEndsAt(m, cfg),
	}
	if p.Wallet != "" && p.Wallet == m.Creator {
		q.CreatorPayout = CreatorPayout(m)
	}
	err := CheckClaim(p, m, cfg, now)
	q.Claimable = err == nil
	if err != nil {
		q.Reason = claimReason(err)
	}
	return q
}

func claimReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, domain.ErrChallengeActive):
		return "challenge_active"
	case errors.Is(err, domain.ErrNotSettled):
		return "not_settled"
	case errors.Is(err, ErrNothingToClaim):
		return "nothing_to_claim"
	default:
		return err.Error()
	}
}

// MarketSummary is the market-level economics shown next to the mirror row.
type MarketSummary struct {
	PrizePool         uint64
	CreatorPayout     uint64
	CreatorLP         uint64
	PriceYesBps       uint64
	ChallengeActive   bool
	ChallengeEndsAt   int64
	TreasuryClaimable bool
	CreatorClaimable  bool
	StaleReclaimable  bool
}

// Summarize computes the market-level economics at the given time.
func Summarize(m domain.Market, cfg domain.LedgerConfig, now time.Time) MarketSummary {
	return MarketSummary{
		PrizePool:         PrizePool(m),
		CreatorPayout:     CreatorPayout(m),
		CreatorLP:         CreatorLPComponent(m),
		PriceYesBps:       m.PriceYesBps(),
		ChallengeActive:   ChallengeActive(m, cfg, now),
		ChallengeEndsAt:   ChallengeEndsAt(m, cfg),
		TreasuryClaimable: TreasuryClaimable(m, cfg, now),
		CreatorClaimable:  CreatorClaimable(m, cfg, now),
		StaleReclaimable:  StaleReclaimable(m, now),
	}
}

// LamportsToSOL converts a lamport amount to an exact SOL decimal.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), lamportsPerSOLExp)
}
