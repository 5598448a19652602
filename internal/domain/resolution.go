package domain

import "time"

// DecisionKind is the oracle verdict for a market.
type DecisionKind string

const (
	DecisionYes   DecisionKind = "yes"
	DecisionNo    DecisionKind = "no"
	DecisionVoid  DecisionKind = "void"
	DecisionError DecisionKind = "error"
)

// ParseDecisionKind maps a raw oracle value onto a DecisionKind. Anything
// other than yes, no or void becomes DecisionError.
func ParseDecisionKind(s string) DecisionKind {
	switch DecisionKind(s) {
	case DecisionYes, DecisionNo, DecisionVoid:
		return DecisionKind(s)
	default:
		return DecisionError
	}
}

// Decision is the structured output of the resolution oracle.
type Decision struct {
	Kind       DecisionKind
	Confidence float64
	Reasoning  string
}

// Settles reports whether the decision leads to a ledger submission.
func (d Decision) Settles() bool {
	return d.Kind == DecisionYes || d.Kind == DecisionNo || d.Kind == DecisionVoid
}

// ErrorDecision builds a DecisionError with zero confidence.
func ErrorDecision(reason string) Decision {
	return Decision{Kind: DecisionError, Confidence: 0, Reasoning: reason}
}

// ResolutionLog is one append-only audit row for a scheduler attempt. Only
// TxSignature may be filled in after insertion.
type ResolutionLog struct {
	ID           int64
	MarketID     uint64
	SourceURL    string
	SourceText   string
	AIReasoning  string
	AIDecision   DecisionKind
	Confidence   float64
	TxSignature  *string
	ErrorMessage *string
	EvidencePath *string
	AttemptedAt  time.Time
}

// AttemptStats summarises prior resolution attempts for one market.
type AttemptStats struct {
	Attempts      int
	LastAttempted *time.Time
}
