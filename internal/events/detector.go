// Package events detects discrete market events from successive condition
// snapshots and fans them out to subscribers.
package events

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

// Thresholds configures every detection rule. Comparisons marked strict use >.
type Thresholds struct {
	VolatilitySpike    float64 `mapstructure:"volatility_spike"`    // strict
	VolatilityHigh     float64 `mapstructure:"volatility_high"`     // strict
	VolatilityCritical float64 `mapstructure:"volatility_critical"` // strict
	VolatilityWiden    float64 `mapstructure:"volatility_widen"`    // strict, above this stops widen
	VolumeSurge        float64 `mapstructure:"volume_surge"`        // strict
	VolumeHigh         float64 `mapstructure:"volume_high"`         // strict
	VolumeCritical     float64 `mapstructure:"volume_critical"`     // strict
	TrendStrength      float64 `mapstructure:"trend_strength"`      // strict
	TrendStrengthHigh  float64 `mapstructure:"trend_strength_high"` // strict
	BreakoutHighMove   float64 `mapstructure:"breakout_high_move"`  // strict, |priceChange24h|
	RSIOverbought      float64 `mapstructure:"rsi_overbought"`      // inclusive
	RSIOversold        float64 `mapstructure:"rsi_oversold"`        // inclusive
}

// DefaultThresholds returns the observed production defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		VolatilitySpike:    50,
		VolatilityHigh:     75,
		VolatilityCritical: 100,
		VolatilityWiden:    75,
		VolumeSurge:        200,
		VolumeHigh:         300,
		VolumeCritical:     500,
		TrendStrength:      0.7,
		TrendStrengthHigh:  0.8,
		BreakoutHighMove:   10,
		RSIOverbought:      85,
		RSIOversold:        15,
	}
}

// Detector compares the previous and current snapshot of a symbol.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a detector with the given thresholds
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// Thresholds returns the active rule configuration
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Detect evaluates every rule independently and returns the events that fired,
// in rule order. The result is fully determined by the two snapshots.
func (d *Detector) Detect(prev, cur types.MarketConditionSnapshot) []types.MarketEvent {
	var out []types.MarketEvent

	if ev, ok := d.volatilitySpike(cur); ok {
		out = append(out, ev)
	}
	if ev, ok := d.volumeSurge(cur); ok {
		out = append(out, ev)
	}
	if ev, ok := d.trendReversal(prev, cur); ok {
		out = append(out, ev)
	}
	if ev, ok := d.breakout(prev, cur); ok {
		out = append(out, ev)
	}
	if ev, ok := d.regimeChange(prev, cur); ok {
		out = append(out, ev)
	}
	if ev, ok := d.extremeOscillator(cur); ok {
		out = append(out, ev)
	}

	return out
}

func (d *Detector) volatilitySpike(cur types.MarketConditionSnapshot) (types.MarketEvent, bool) {
	t := d.thresholds
	change := cur.VolatilityChange
	if !(change > t.VolatilitySpike) {
		return types.MarketEvent{}, false
	}

	severity := types.SeverityMedium
	switch {
	case change > t.VolatilityCritical:
		severity = types.SeverityCritical
	case change > t.VolatilityHigh:
		severity = types.SeverityHigh
	}

	action := types.ActionTightenStops
	if change > t.VolatilityWiden {
		action = types.ActionWidenStops
	}

	prevVol := 0.0
	if change > -100 {
		prevVol = cur.Volatility / (1 + change/100)
	}

	return newEvent(types.EventVolatilitySpike, cur, severity, action,
		fmt.Sprintf("Volatility up %.1f%% to %.1f%%", change, cur.Volatility),
		map[string]float64{
			"volatility_change":   change,
			"current_volatility":  cur.Volatility,
			"previous_volatility": round(prevVol, 4),
		}), true
}

func (d *Detector) volumeSurge(cur types.MarketConditionSnapshot) (types.MarketEvent, bool) {
	t := d.thresholds
	change := cur.VolumeChange24h
	if !(change > t.VolumeSurge) {
		return types.MarketEvent{}, false
	}

	severity := types.SeverityMedium
	switch {
	case change > t.VolumeCritical:
		severity = types.SeverityCritical
	case change > t.VolumeHigh:
		severity = types.SeverityHigh
	}

	volume, _ := cur.Volume.Float64()
	return newEvent(types.EventVolumeSurge, cur, severity, types.ActionIncreaseSize,
		fmt.Sprintf("Volume up %.1f%% over 24h", change),
		map[string]float64{
			"volume_change_24h": change,
			"volume":            volume,
		}), true
}

func (d *Detector) trendReversal(prev, cur types.MarketConditionSnapshot) (types.MarketEvent, bool) {
	t := d.thresholds
	if prev.Trend == cur.Trend || !(cur.TrendStrength > t.TrendStrength) {
		return types.MarketEvent{}, false
	}

	severity := types.SeverityMedium
	if cur.TrendStrength > t.TrendStrengthHigh {
		severity = types.SeverityHigh
	}

	return newEvent(types.EventTrendReversal, cur, severity, types.ActionPauseTrading,
		fmt.Sprintf("Trend reversed from %s to %s (strength %.2f)", prev.Trend, cur.Trend, cur.TrendStrength),
		map[string]float64{
			"trend_strength":          cur.TrendStrength,
			"previous_trend_strength": prev.TrendStrength,
		}), true
}

func (d *Detector) breakout(prev, cur types.MarketConditionSnapshot) (types.MarketEvent, bool) {
	above := cur.Price.GreaterThan(prev.Resistance)
	below := cur.Price.LessThan(prev.Support)
	if !above && !below {
		return types.MarketEvent{}, false
	}

	severity := types.SeverityMedium
	if math.Abs(cur.PriceChange24h) > d.thresholds.BreakoutHighMove {
		severity = types.SeverityHigh
	}

	price, _ := cur.Price.Float64()
	resistance, _ := prev.Resistance.Float64()
	support, _ := prev.Support.Float64()

	desc := fmt.Sprintf("Price %s broke above resistance %s", cur.Price.String(), prev.Resistance.String())
	if below {
		desc = fmt.Sprintf("Price %s broke below support %s", cur.Price.String(), prev.Support.String())
	}

	return newEvent(types.EventBreakout, cur, severity, types.ActionIncreaseSize, desc,
		map[string]float64{
			"price":            price,
			"resistance":       resistance,
			"support":          support,
			"price_change_24h": cur.PriceChange24h,
		}), true
}

func (d *Detector) regimeChange(prev, cur types.MarketConditionSnapshot) (types.MarketEvent, bool) {
	if prev.Regime == cur.Regime {
		return types.MarketEvent{}, false
	}

	return newEvent(types.EventRegimeChange, cur, types.SeverityMedium, types.ActionNoAction,
		fmt.Sprintf("Market regime changed from %s to %s", prev.Regime, cur.Regime),
		map[string]float64{
			"trend_strength": cur.TrendStrength,
			"volatility":     cur.Volatility,
		}), true
}

func (d *Detector) extremeOscillator(cur types.MarketConditionSnapshot) (types.MarketEvent, bool) {
	t := d.thresholds
	overbought := cur.RSI >= t.RSIOverbought
	oversold := cur.RSI <= t.RSIOversold
	if !overbought && !oversold {
		return types.MarketEvent{}, false
	}

	action := types.ActionIncreaseSize
	desc := fmt.Sprintf("RSI oversold at %.1f", cur.RSI)
	if overbought {
		action = types.ActionReduceSize
		desc = fmt.Sprintf("RSI overbought at %.1f", cur.RSI)
	}

	return newEvent(types.EventExtremeOscillator, cur, types.SeverityMedium, action, desc,
		map[string]float64{"rsi": cur.RSI}), true
}

// newEvent stamps an event with the current snapshot's time. The ID is derived
// from symbol, type and timestamp so detection stays deterministic.
func newEvent(
	eventType types.MarketEventType,
	cur types.MarketConditionSnapshot,
	severity types.EventSeverity,
	action types.RecommendedAction,
	description string,
	evidence map[string]float64,
) types.MarketEvent {
	return types.MarketEvent{
		ID:          fmt.Sprintf("evt_%s_%s_%d", cur.Symbol, eventType, cur.Timestamp.UnixNano()),
		Type:        eventType,
		Symbol:      cur.Symbol,
		Severity:    severity,
		Description: description,
		Timestamp:   cur.Timestamp,
		Evidence:    evidence,
		Action:      action,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
