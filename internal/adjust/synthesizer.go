// Package adjust turns market events into time-scoped parameter adjustments,
// manages their lifecycle and folds them into effective parameter sets.
package adjust

import (
	"fmt"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/google/uuid"
)

// Synthesizer maps (event type, severity, regime) to a parameter delta and a
// lifecycle classification. The mapping table is fixed; only IDs vary.
type Synthesizer struct {
	strategies map[string]string // symbol -> strategy ID
}

// NewSynthesizer creates a synthesizer. strategies maps a symbol to the
// strategy its adjustments target; unmapped symbols use the symbol itself.
func NewSynthesizer(strategies map[string]string) *Synthesizer {
	s := &Synthesizer{strategies: make(map[string]string, len(strategies))}
	for symbol, id := range strategies {
		s.strategies[symbol] = id
	}
	return s
}

// StrategyFor returns the strategy ID bound to a symbol
func (s *Synthesizer) StrategyFor(symbol string) string {
	if id, ok := s.strategies[symbol]; ok && id != "" {
		return id
	}
	return symbol
}

// Synthesize proposes an adjustment for the event. ok is false when no rule is
// mapped for the event (or for the regime it moved into).
func (s *Synthesizer) Synthesize(event types.MarketEvent, regime types.MarketRegime) (types.DynamicAdjustment, bool) {
	var (
		delta    types.ParameterDelta
		duration types.DurationClass
		reverts  []types.RevertCondition
		reason   string
	)

	switch event.Type {
	case types.EventVolatilitySpike:
		switch event.Severity {
		case types.SeverityCritical:
			delta = values(map[types.Param]float64{
				types.ParamStopLoss:         4.0,
				types.ParamPositionSize:     1.0,
				types.ParamVolatilityFilter: 50,
			})
		case types.SeverityHigh:
			delta = values(map[types.Param]float64{
				types.ParamStopLoss:         3.0,
				types.ParamPositionSize:     1.5,
				types.ParamVolatilityFilter: 40,
			})
		default:
			delta = values(map[types.Param]float64{
				types.ParamStopLoss:         2.5,
				types.ParamPositionSize:     2.0,
				types.ParamVolatilityFilter: 35,
			})
		}
		duration = types.DurationUntilReversal
		reverts = []types.RevertCondition{types.RevertVolatilityNormalized}
		reason = "Widen stops and cut size during volatility spike"

	case types.EventVolumeSurge:
		delta = values(map[types.Param]float64{
			types.ParamPositionSize:      3.0,
			types.ParamVolumeThreshold:   0.5 * event.Evidence["volume"],
			types.ParamMomentumThreshold: 0.8,
		})
		duration = types.DurationTemporary
		reason = "Scale into volume surge with stricter momentum confirmation"

	case types.EventTrendReversal:
		delta = types.ParameterDelta{
			Values: map[types.Param]float64{
				types.ParamTakeProfit:   2.0,
				types.ParamPositionSize: 1.5,
			},
			Flags: map[types.Param]bool{
				types.ParamTrendFilterEnabled: false,
			},
		}
		duration = types.DurationUntilReversal
		reverts = []types.RevertCondition{types.RevertTrendStabilized}
		reason = "Disable trend filter and take profits early on reversal"

	case types.EventBreakout:
		delta = values(map[types.Param]float64{
			types.ParamPositionSize:      3.5,
			types.ParamTakeProfit:        6.0,
			types.ParamMomentumThreshold: 0.5,
		})
		duration = types.DurationTemporary
		reason = "Ride breakout with larger size and extended target"

	case types.EventRegimeChange:
		switch regime {
		case types.RegimeTrending:
			delta = values(map[types.Param]float64{
				types.ParamMACDFast:   8,
				types.ParamMACDSlow:   21,
				types.ParamMACDSignal: 5,
				types.ParamTakeProfit: 5.0,
			})
		case types.RegimeRanging:
			delta = values(map[types.Param]float64{
				types.ParamRSIOverbought: 75,
				types.ParamRSIOversold:   25,
				types.ParamTakeProfit:    2.5,
			})
		case types.RegimeConsolidation:
			delta = values(map[types.Param]float64{
				types.ParamPositionSize:     1.5,
				types.ParamVolatilityFilter: 20,
			})
		default:
			return types.DynamicAdjustment{}, false
		}
		duration = types.DurationPermanent
		reason = fmt.Sprintf("Retune for %s regime", regime)

	case types.EventExtremeOscillator:
		size := 2.5
		reason = "Add size at oversold extreme"
		if event.Action == types.ActionReduceSize {
			size = 1.0
			reason = "Cut size at overbought extreme"
		}
		delta = values(map[types.Param]float64{types.ParamPositionSize: size})
		duration = types.DurationTemporary

	default:
		return types.DynamicAdjustment{}, false
	}

	return types.DynamicAdjustment{
		ID:               "adj_" + uuid.NewString(),
		StrategyID:       s.StrategyFor(event.Symbol),
		Symbol:           event.Symbol,
		EventID:          event.ID,
		EventType:        event.Type,
		Delta:            delta,
		Reason:           reason,
		Severity:         severityFor(event.Severity),
		Duration:         duration,
		RevertConditions: reverts,
		CreatedAt:        event.Timestamp,
		State:            types.StateProposed,
	}, true
}

func values(v map[types.Param]float64) types.ParameterDelta {
	return types.ParameterDelta{Values: v}
}

func severityFor(s types.EventSeverity) types.AdjustmentSeverity {
	switch s {
	case types.SeverityCritical, types.SeverityHigh:
		return types.AdjustmentMajor
	case types.SeverityMedium:
		return types.AdjustmentModerate
	default:
		return types.AdjustmentMinor
	}
}
