package adjust_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/adjust"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func event(eventType types.MarketEventType, severity types.EventSeverity) types.MarketEvent {
	return types.MarketEvent{
		ID:        "evt_" + string(eventType),
		Type:      eventType,
		Symbol:    "BTCUSD",
		Severity:  severity,
		Timestamp: t0,
		Evidence:  map[string]float64{"volume": 10000},
	}
}

func TestSynthesizeVolatilitySpikeCritical(t *testing.T) {
	s := adjust.NewSynthesizer(map[string]string{"BTCUSD": "btc-momentum"})

	adj, ok := s.Synthesize(event(types.EventVolatilitySpike, types.SeverityCritical), types.RegimeTrending)
	if !ok {
		t.Fatal("Expected an adjustment")
	}

	want := map[types.Param]float64{
		types.ParamStopLoss:         4.0,
		types.ParamPositionSize:     1.0,
		types.ParamVolatilityFilter: 50,
	}
	for k, v := range want {
		if adj.Delta.Values[k] != v {
			t.Errorf("%s = %v, want %v", k, adj.Delta.Values[k], v)
		}
	}
	if len(adj.Delta.Values) != len(want) || len(adj.Delta.Flags) != 0 {
		t.Errorf("Delta should be sparse, got %+v", adj.Delta)
	}
	if adj.Duration != types.DurationUntilReversal {
		t.Errorf("Duration = %s", adj.Duration)
	}
	if len(adj.RevertConditions) != 1 || adj.RevertConditions[0] != types.RevertVolatilityNormalized {
		t.Errorf("RevertConditions = %v", adj.RevertConditions)
	}
	if adj.StrategyID != "btc-momentum" {
		t.Errorf("StrategyID = %s", adj.StrategyID)
	}
	if adj.State != types.StateProposed {
		t.Errorf("State = %s, want proposed", adj.State)
	}
	if adj.Severity != types.AdjustmentMajor {
		t.Errorf("Severity = %s, want major", adj.Severity)
	}
	if !adj.CreatedAt.Equal(t0) || adj.EventID != "evt_volatility_spike" {
		t.Errorf("Adjustment not linked to its event: %+v", adj)
	}
}

func TestSynthesizeTable(t *testing.T) {
	s := adjust.NewSynthesizer(nil)

	tests := []struct {
		name     string
		event    types.MarketEvent
		regime   types.MarketRegime
		duration types.DurationClass
		values   map[types.Param]float64
		flags    map[types.Param]bool
	}{
		{
			name:     "volume surge",
			event:    event(types.EventVolumeSurge, types.SeverityHigh),
			duration: types.DurationTemporary,
			values: map[types.Param]float64{
				types.ParamPositionSize:      3.0,
				types.ParamVolumeThreshold:   5000,
				types.ParamMomentumThreshold: 0.8,
			},
		},
		{
			name:     "trend reversal",
			event:    event(types.EventTrendReversal, types.SeverityMedium),
			duration: types.DurationUntilReversal,
			values: map[types.Param]float64{
				types.ParamTakeProfit:   2.0,
				types.ParamPositionSize: 1.5,
			},
			flags: map[types.Param]bool{types.ParamTrendFilterEnabled: false},
		},
		{
			name:     "breakout",
			event:    event(types.EventBreakout, types.SeverityHigh),
			duration: types.DurationTemporary,
			values: map[types.Param]float64{
				types.ParamPositionSize:      3.5,
				types.ParamTakeProfit:        6.0,
				types.ParamMomentumThreshold: 0.5,
			},
		},
		{
			name:     "regime trending",
			event:    event(types.EventRegimeChange, types.SeverityMedium),
			regime:   types.RegimeTrending,
			duration: types.DurationPermanent,
			values: map[types.Param]float64{
				types.ParamMACDFast:   8,
				types.ParamMACDSlow:   21,
				types.ParamMACDSignal: 5,
				types.ParamTakeProfit: 5.0,
			},
		},
		{
			name:     "regime ranging",
			event:    event(types.EventRegimeChange, types.SeverityMedium),
			regime:   types.RegimeRanging,
			duration: types.DurationPermanent,
			values: map[types.Param]float64{
				types.ParamRSIOverbought: 75,
				types.ParamRSIOversold:   25,
				types.ParamTakeProfit:    2.5,
			},
		},
		{
			name:     "regime consolidation",
			event:    event(types.EventRegimeChange, types.SeverityMedium),
			regime:   types.RegimeConsolidation,
			duration: types.DurationPermanent,
			values: map[types.Param]float64{
				types.ParamPositionSize:     1.5,
				types.ParamVolatilityFilter: 20,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj, ok := s.Synthesize(tt.event, tt.regime)
			if !ok {
				t.Fatal("Expected an adjustment")
			}
			if adj.Duration != tt.duration {
				t.Errorf("Duration = %s, want %s", adj.Duration, tt.duration)
			}
			if len(adj.Delta.Values) != len(tt.values) {
				t.Errorf("Values = %v, want %v", adj.Delta.Values, tt.values)
			}
			for k, v := range tt.values {
				if got, ok := adj.Delta.Values[k]; !ok || got != v {
					t.Errorf("%s = %v, want %v", k, got, v)
				}
			}
			for k, v := range tt.flags {
				if got, ok := adj.Delta.Flags[k]; !ok || got != v {
					t.Errorf("flag %s = %v, want %v", k, got, v)
				}
			}
			if adj.StrategyID != "BTCUSD" {
				t.Errorf("Unbound symbol should default strategy to symbol, got %s", adj.StrategyID)
			}
		})
	}
}

func TestSynthesizeOscillatorDirection(t *testing.T) {
	s := adjust.NewSynthesizer(nil)

	ob := event(types.EventExtremeOscillator, types.SeverityMedium)
	ob.Action = types.ActionReduceSize
	adj, ok := s.Synthesize(ob, types.RegimeRanging)
	if !ok || adj.Delta.Values[types.ParamPositionSize] != 1.0 {
		t.Errorf("Overbought should cut size, got %+v", adj.Delta)
	}

	os := event(types.EventExtremeOscillator, types.SeverityMedium)
	os.Action = types.ActionIncreaseSize
	adj, ok = s.Synthesize(os, types.RegimeRanging)
	if !ok || adj.Delta.Values[types.ParamPositionSize] != 2.5 {
		t.Errorf("Oversold should add size, got %+v", adj.Delta)
	}
	if adj.Duration != types.DurationTemporary || len(adj.Delta.Values) != 1 {
		t.Errorf("Oscillator adjustment should be a temporary size-only change: %+v", adj)
	}
}

func TestSynthesizeUnmapped(t *testing.T) {
	s := adjust.NewSynthesizer(nil)

	if _, ok := s.Synthesize(event("liquidity_crunch", types.SeverityHigh), types.RegimeTrending); ok {
		t.Error("Unknown event type should not be mapped")
	}
	if _, ok := s.Synthesize(event(types.EventRegimeChange, types.SeverityMedium), types.RegimeBreakout); ok {
		t.Error("Regime change into breakout has no mapped rule")
	}
}

func TestSynthesizeUniqueIDs(t *testing.T) {
	s := adjust.NewSynthesizer(nil)
	a, _ := s.Synthesize(event(types.EventBreakout, types.SeverityHigh), types.RegimeBreakout)
	b, _ := s.Synthesize(event(types.EventBreakout, types.SeverityHigh), types.RegimeBreakout)
	if a.ID == b.ID {
		t.Error("Expected distinct adjustment IDs")
	}
}
