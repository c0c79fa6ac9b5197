package types

import "time"

// AdjustmentSeverity grades how far an adjustment moves parameters
type AdjustmentSeverity string

const (
	AdjustmentMinor    AdjustmentSeverity = "minor"
	AdjustmentModerate AdjustmentSeverity = "moderate"
	AdjustmentMajor    AdjustmentSeverity = "major"
)

// DurationClass governs how an adjustment is retired
type DurationClass string

const (
	DurationTemporary     DurationClass = "temporary"      // TTL based
	DurationUntilReversal DurationClass = "until_reversal" // predicate based
	DurationPermanent     DurationClass = "permanent"      // never auto-retired
)

// AdjustmentState is the lifecycle state of an adjustment
type AdjustmentState string

const (
	StateProposed AdjustmentState = "proposed"
	StateActive   AdjustmentState = "active"
	StateReverted AdjustmentState = "reverted"
	StateExpired  AdjustmentState = "expired"
)

// IsTerminal reports whether no further transition is allowed
func (s AdjustmentState) IsTerminal() bool {
	return s == StateReverted || s == StateExpired
}

// RevertCondition is a closed set of predicates evaluated against a snapshot
type RevertCondition string

const (
	RevertVolatilityNormalized RevertCondition = "volatility_normalized"
	RevertTrendStabilized      RevertCondition = "trend_stabilized"
	RevertVolumeNormalized     RevertCondition = "volume_normalized"
)

// DynamicAdjustment is a bounded, reversible modification to a strategy's
// parameters triggered by a market event.
type DynamicAdjustment struct {
	ID               string             `json:"id"`
	StrategyID       string             `json:"strategyId"`
	Symbol           string             `json:"symbol"`
	EventID          string             `json:"eventId"`
	EventType        MarketEventType    `json:"eventType"`
	Delta            ParameterDelta     `json:"delta"`
	Reason           string             `json:"reason"`
	Severity         AdjustmentSeverity `json:"severity"`
	Duration         DurationClass      `json:"duration"`
	RevertConditions []RevertCondition  `json:"revertConditions,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	State            AdjustmentState    `json:"state"`
	RetiredAt        time.Time          `json:"retiredAt,omitempty"`
}

// Clone returns a deep copy of the adjustment
func (a DynamicAdjustment) Clone() DynamicAdjustment {
	out := a
	out.Delta = a.Delta.Clone()
	if a.RevertConditions != nil {
		out.RevertConditions = append([]RevertCondition(nil), a.RevertConditions...)
	}
	return out
}

// AdjustmentTransition records a lifecycle state change
type AdjustmentTransition struct {
	Adjustment DynamicAdjustment `json:"adjustment"`
	From       AdjustmentState   `json:"from"`
	To         AdjustmentState   `json:"to"`
	Reason     string            `json:"reason"`
	At         time.Time         `json:"at"`
}
