package domain

import "time"

// Signal bus channels carrying lifecycle events as JSON.
const (
	ChannelMarket = "ch:market"
	ChannelSweep  = "ch:sweep"
	ChannelSync   = "ch:sync"

	// StreamResolutions is the durable stream of settlement events.
	StreamResolutions = "stream:resolutions"
)

// Event type names published on the bus and used as notification filters.
const (
	EventMarketResolved  = "market_resolved"
	EventMarketVoided    = "market_voided"
	EventResolutionStuck = "resolution_stuck"
	EventLedgerError     = "ledger_error"
	EventSweepCompleted  = "sweep_completed"
	EventPositionSynced  = "position_synced"
)

// LifecycleEvent is the JSON envelope published on the signal bus.
type LifecycleEvent struct {
	Type       string         `json:"type"`
	MarketID   uint64         `json:"market_id,omitempty"`
	Wallet     string         `json:"wallet,omitempty"`
	Decision   DecisionKind   `json:"decision,omitempty"`
	Signature  string         `json:"signature,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
