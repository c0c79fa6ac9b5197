package adjust

import (
	"math"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

// RevertLimits configures the revert predicates
type RevertLimits struct {
	MaxVolatility    float64 `mapstructure:"max_volatility"`     // volatility_normalized: volatility <= this
	MinTrendStrength float64 `mapstructure:"min_trend_strength"` // trend_stabilized: strength >= this
	MaxVolumeChange  float64 `mapstructure:"max_volume_change"`  // volume_normalized: |change| <= this
}

// DefaultRevertLimits returns the observed production defaults
func DefaultRevertLimits() RevertLimits {
	return RevertLimits{
		MaxVolatility:    30,
		MinTrendStrength: 0.6,
		MaxVolumeChange:  100,
	}
}

// predicate reports whether a revert condition holds for a snapshot
type predicate func(limits RevertLimits, snap types.MarketConditionSnapshot) bool

var predicates = map[types.RevertCondition]predicate{
	types.RevertVolatilityNormalized: func(l RevertLimits, s types.MarketConditionSnapshot) bool {
		return s.Volatility <= l.MaxVolatility
	},
	types.RevertTrendStabilized: func(l RevertLimits, s types.MarketConditionSnapshot) bool {
		return s.TrendStrength >= l.MinTrendStrength
	},
	types.RevertVolumeNormalized: func(l RevertLimits, s types.MarketConditionSnapshot) bool {
		return math.Abs(s.VolumeChange24h) <= l.MaxVolumeChange
	},
}

// KnownCondition reports whether c is a member of the closed predicate set
func KnownCondition(c types.RevertCondition) bool {
	_, ok := predicates[c]
	return ok
}

// KnownDuration reports whether d is one of the three duration classes
func KnownDuration(d types.DurationClass) bool {
	switch d {
	case types.DurationTemporary, types.DurationUntilReversal, types.DurationPermanent:
		return true
	}
	return false
}

// Evaluate reports whether a single revert condition holds. Unknown
// conditions never hold.
func (l RevertLimits) Evaluate(c types.RevertCondition, snap types.MarketConditionSnapshot) bool {
	p, ok := predicates[c]
	if !ok {
		return false
	}
	return p(l, snap)
}

// AllHold reports whether every listed condition holds for the snapshot
func (l RevertLimits) AllHold(conds []types.RevertCondition, snap types.MarketConditionSnapshot) bool {
	for _, c := range conds {
		if !l.Evaluate(c, snap) {
			return false
		}
	}
	return true
}
