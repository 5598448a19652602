// Package settlement computes claim economics from mirrored market and
// position state: winnings, refunds, creator and treasury payouts, and the
// challenge window that gates every claim. All functions are pure.
package settlement

import (
	"errors"
	"math/big"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// StaleGracePeriod is how long after its deadline an unresolved market
// becomes reclaimable by its creator.
const StaleGracePeriod = 30 * 24 * time.Hour

// ErrNothingToClaim is returned when a position has no payout on a settled
// market.
var ErrNothingToClaim = errors.New("nothing to claim")

// IsWinner reports whether the position holds shares on the resolved
// winning side.
func IsWinner(p domain.Position, m domain.Market) bool {
	return WinningShares(p, m) > 0
}

// WinningShares returns the share count on the winning side, or 0 when the
// market is not resolved.
func WinningShares(p domain.Position, m domain.Market) uint64 {
	if m.Status != domain.MarketStatusResolved {
		return 0
	}
	switch m.Outcome {
	case domain.OutcomeYes:
		return p.YesShares
	case domain.OutcomeNo:
		return p.NoShares
	default:
		return 0
	}
}

// PrizePool is total_minted less the treasury and creator rake, floored at 0.
func PrizePool(m domain.Market) uint64 {
	rake := m.TreasuryFee + m.CreatorFee
	if rake < m.TreasuryFee || rake >= m.TotalMinted {
		return 0
	}
	return m.TotalMinted - rake
}

// Winnings is floor(winning_shares * prize_pool / total_minted). It is 0 for
// unresolved markets, empty markets and claimed positions.
func Winnings(p domain.Position, m domain.Market) uint64 {
	if p.Claimed || m.TotalMinted == 0 {
		return 0
	}
	shares := WinningShares(p, m)
	if shares == 0 {
		return 0
	}
	return mulDiv(shares, PrizePool(m), m.TotalMinted)
}

// Refund is floor((yes_shares + no_shares) / 2) on a voided market. The flat
// half-shares rule ignores the prices actually paid.
func Refund(p domain.Position, m domain.Market) uint64 {
	if p.Claimed || m.Status != domain.MarketStatusVoided {
		return 0
	}
	return (p.YesShares / 2) + (p.NoShares / 2) + (p.YesShares%2+p.NoShares%2)/2
}

// CreatorLPComponent is the creator's seeded liquidity revalued against the
// winning reserve: floor(winning_reserve * prize_pool / total_minted).
func CreatorLPComponent(m domain.Market) uint64 {
	if m.Status != domain.MarketStatusResolved || m.TotalMinted == 0 {
		return 0
	}
	return mulDiv(m.WinningReserve(), PrizePool(m), m.TotalMinted)
}

// CreatorPayout is creator_fee plus the LP component. It is 0 when the
// market is unresolved or the creator fee was already claimed.
func CreatorPayout(m domain.Market) uint64 {
	if m.Status != domain.MarketStatusResolved || m.CreatorFeeClaimed {
		return 0
	}
	return m.CreatorFee + CreatorLPComponent(m)
}

// ChallengeEndsAt returns the unix time the challenge window closes, or 0
// when the market has not been resolved.
func ChallengeEndsAt(m domain.Market, cfg domain.LedgerConfig) int64 {
	if m.ResolvedAt <= 0 {
		return 0
	}
	return m.ResolvedAt + cfg.ChallengePeriod
}

// ChallengeActive reports whether claims are still blocked by the dispute
// window.
func ChallengeActive(m domain.Market, cfg domain.LedgerConfig, now time.Time) bool {
	return m.ResolvedAt > 0 && now.Unix() < m.ResolvedAt+cfg.ChallengePeriod
}

// CheckClaim returns nil when the position can claim now, or the reason the
// claim must be refused.
func CheckClaim(p domain.Position, m domain.Market, cfg domain.LedgerConfig, now time.Time) error {
	if p.Claimed {
		return domain.ErrAlreadyClaimed
	}
	switch m.Status {
	case domain.MarketStatusResolved:
		if ChallengeActive(m, cfg, now) {
			return domain.ErrChallengeActive
		}
		if !IsWinner(p, m) {
			return ErrNothingToClaim
		}
		return nil
	case domain.MarketStatusVoided:
		if Refund(p, m) == 0 {
			return ErrNothingToClaim
		}
		return nil
	default:
		return domain.ErrNotSettled
	}
}

// TreasuryClaimable reports whether the treasury rake can be withdrawn.
func TreasuryClaimable(m domain.Market, cfg domain.LedgerConfig, now time.Time) bool {
	return m.Status == domain.MarketStatusResolved &&
		!m.TreasuryFeeClaimed &&
		!ChallengeActive(m, cfg, now)
}

// CreatorClaimable reports whether the creator fee and LP return can be
// withdrawn.
func CreatorClaimable(m domain.Market, cfg domain.LedgerConfig, now time.Time) bool {
	return m.Status == domain.MarketStatusResolved &&
		!m.CreatorFeeClaimed &&
		!ChallengeActive(m, cfg, now)
}

// StaleReclaimable reports whether an unresolved market is past its deadline
// by more than the grace period.
func StaleReclaimable(m domain.Market, now time.Time) bool {
	return m.Status == domain.MarketStatusOpen &&
		now.Unix() > m.ResolutionTimestamp+int64(StaleGracePeriod/time.Second)
}

// mulDiv computes floor(a*b/c) without intermediate overflow. c must be > 0.
func mulDiv(a, b, c uint64) uint64 {
	var x big.Int
	x.Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	x.Quo(&x, new(big.Int).SetUint64(c))
	if !x.IsUint64() {
		return ^uint64(0)
	}
	return x.Uint64()
}
