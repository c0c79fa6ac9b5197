package adjust

import "github.com/atlas-desktop/adaptive-backend/pkg/types"

// Resolve folds active adjustment deltas over the baseline, left to right.
// Later adjustments override earlier ones on the same field; disjoint fields
// compose. The baseline is never modified, so Resolve is idempotent:
// Resolve(Resolve(b, a), a) equals Resolve(b, a).
func Resolve(baseline types.ParameterSet, active []types.DynamicAdjustment) types.ParameterSet {
	out := baseline.Clone()
	for _, adj := range active {
		for k, v := range adj.Delta.Values {
			out.Values[k] = v
		}
		for k, v := range adj.Delta.Flags {
			out.Flags[k] = v
		}
	}
	return out
}

// ForStrategy filters adjustments to those targeting one strategy,
// preserving order.
func ForStrategy(strategyID string, adjustments []types.DynamicAdjustment) []types.DynamicAdjustment {
	out := make([]types.DynamicAdjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.StrategyID == strategyID {
			out = append(out, adj)
		}
	}
	return out
}
