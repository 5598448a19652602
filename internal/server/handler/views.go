package handler

import (
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/settlement"
)

// Response bodies. Lamport amounts are integers; the *_sol fields are exact
// decimal strings for display.

type marketResponse struct {
	MarketID            uint64  `json:"market_id"`
	Pubkey              string  `json:"pubkey,omitempty"`
	Creator             string  `json:"creator"`
	Question            string  `json:"question"`
	ResolutionSource    string  `json:"resolution_source"`
	ResolutionTimestamp int64   `json:"resolution_timestamp"`
	YesReserve          uint64  `json:"yes_reserve"`
	NoReserve           uint64  `json:"no_reserve"`
	TotalMinted         uint64  `json:"total_minted"`
	InitialLiquidity    uint64  `json:"initial_liquidity"`
	SwapFeeBps          uint16  `json:"swap_fee_bps"`
	TreasuryFee         uint64  `json:"treasury_fee"`
	CreatorFee          uint64  `json:"creator_fee"`
	Status              string  `json:"status"`
	Outcome             *string `json:"outcome"`
	ResolvedAt          int64   `json:"resolved_at,omitempty"`
	AIReasoning         string  `json:"ai_reasoning,omitempty"`
	CreatorFeeClaimed   bool    `json:"creator_fee_claimed"`
	TreasuryFeeClaimed  bool    `json:"treasury_fee_claimed"`
}

type marketViewResponse struct {
	marketResponse
	PriceYes          uint64 `json:"price_yes"`
	PrizePool         uint64 `json:"prize_pool"`
	PrizePoolSOL      string `json:"prize_pool_sol"`
	CreatorPayout     uint64 `json:"creator_payout"`
	CreatorPayoutSOL  string `json:"creator_payout_sol"`
	CreatorLP         uint64 `json:"creator_lp"`
	ChallengeActive   bool   `json:"challenge_active"`
	ChallengeEndsAt   int64  `json:"challenge_ends_at,omitempty"`
	TreasuryClaimable bool   `json:"treasury_claimable"`
	CreatorClaimable  bool   `json:"creator_claimable"`
	StaleReclaimable  bool   `json:"stale_reclaimable"`
}

type positionResponse struct {
	YesShares uint64 `json:"yes_shares"`
	NoShares  uint64 `json:"no_shares"`
	Claimed   bool   `json:"claimed"`
	CostBasis uint64 `json:"cost_basis"`
}

type claimQuoteResponse struct {
	MarketID        uint64  `json:"market_id"`
	Wallet          string  `json:"wallet"`
	Status          string  `json:"status"`
	Outcome         *string `json:"outcome"`
	Winner          bool    `json:"winner"`
	Winnings        uint64  `json:"winnings"`
	WinningsSOL     string  `json:"winnings_sol"`
	Refund          uint64  `json:"refund"`
	RefundSOL       string  `json:"refund_sol"`
	CreatorPayout   uint64  `json:"creator_payout"`
	Claimed         bool    `json:"claimed"`
	ChallengeActive bool    `json:"challenge_active"`
	ChallengeEndsAt int64   `json:"challenge_ends_at,omitempty"`
	Claimable       bool    `json:"claimable"`
	Reason          string  `json:"reason,omitempty"`
}

type resolutionResponse struct {
	ID           int64     `json:"id"`
	MarketID     uint64    `json:"market_id"`
	SourceURL    string    `json:"source_url"`
	SourceText   string    `json:"source_text"`
	AIReasoning  string    `json:"ai_reasoning"`
	AIDecision   string    `json:"ai_decision"`
	Confidence   float64   `json:"confidence"`
	TxSignature  *string   `json:"tx_signature"`
	ErrorMessage *string   `json:"error_message"`
	EvidencePath *string   `json:"evidence_path"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

type evidenceResponse struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

func outcomeJSON(o domain.Outcome) *string {
	s := o.String()
	if s == "" {
		return nil
	}
	return &s
}

func toMarketResponse(m domain.Market) marketResponse {
	return marketResponse{
		MarketID:            m.ID,
		Pubkey:              m.Pubkey,
		Creator:             m.Creator,
		Question:            m.Question,
		ResolutionSource:    m.ResolutionSource,
		ResolutionTimestamp: m.ResolutionTimestamp,
		YesReserve:          m.YesReserve,
		NoReserve:           m.NoReserve,
		TotalMinted:         m.TotalMinted,
		InitialLiquidity:    m.InitialLiquidity,
		SwapFeeBps:          m.SwapFeeBps,
		TreasuryFee:         m.TreasuryFee,
		CreatorFee:          m.CreatorFee,
		Status:              string(m.Status),
		Outcome:             outcomeJSON(m.Outcome),
		ResolvedAt:          m.ResolvedAt,
		AIReasoning:         m.AIReasoning,
		CreatorFeeClaimed:   m.CreatorFeeClaimed,
		TreasuryFeeClaimed:  m.TreasuryFeeClaimed,
	}
}

func toMarketViewResponse(m domain.Market, s settlement.MarketSummary) marketViewResponse {
	return marketViewResponse{
		marketResponse:    toMarketResponse(m),
		PriceYes:          s.PriceYesBps,
		PrizePool:         s.PrizePool,
		PrizePoolSOL:      settlement.LamportsToSOL(s.PrizePool).String(),
		CreatorPayout:     s.CreatorPayout,
		CreatorPayoutSOL:  settlement.LamportsToSOL(s.CreatorPayout).String(),
		CreatorLP:         s.CreatorLP,
		ChallengeActive:   s.ChallengeActive,
		ChallengeEndsAt:   s.ChallengeEndsAt,
		TreasuryClaimable: s.TreasuryClaimable,
		CreatorClaimable:  s.CreatorClaimable,
		StaleReclaimable:  s.StaleReclaimable,
	}
}

func toPositionResponse(p domain.Position) *positionResponse {
	return &positionResponse{
		YesShares: p.YesShares,
		NoShares:  p.NoShares,
		Claimed:   p.Claimed,
		CostBasis: p.CostBasis,
	}
}

func toClaimQuoteResponse(q settlement.ClaimQuote) claimQuoteResponse {
	return claimQuoteResponse{
		MarketID:        q.MarketID,
		Wallet:          q.Wallet,
		Status:          string(q.Status),
		Outcome:         outcomeJSON(q.Outcome),
		Winner:          q.Winner,
		Winnings:        q.Winnings,
		WinningsSOL:     settlement.LamportsToSOL(q.Winnings).String(),
		Refund:          q.Refund,
		RefundSOL:       settlement.LamportsToSOL(q.Refund).String(),
		CreatorPayout:   q.CreatorPayout,
		Claimed:         q.Claimed,
		ChallengeActive: q.ChallengeActive,
		ChallengeEndsAt: q.ChallengeEndsAt,
		Claimable:       q.Claimable,
		Reason:          q.Reason,
	}
}

func toResolutionResponses(logs []domain.ResolutionLog) []resolutionResponse {
	out := make([]resolutionResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, resolutionResponse{
			ID:           l.ID,
			MarketID:     l.MarketID,
			SourceURL:    l.SourceURL,
			SourceText:   l.SourceText,
			AIReasoning:  l.AIReasoning,
			AIDecision:   string(l.AIDecision),
			Confidence:   l.Confidence,
			TxSignature:  l.TxSignature,
			ErrorMessage: l.ErrorMessage,
			EvidencePath: l.EvidencePath,
			AttemptedAt:  l.AttemptedAt,
		})
	}
	return out
}
