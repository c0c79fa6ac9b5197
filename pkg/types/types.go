// Package types provides shared type definitions for the adaptive parameter backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trend represents the directional bias of a symbol
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)

// MarketRegime represents the structural state of the market
type MarketRegime string

const (
	RegimeTrending      MarketRegime = "trending"
	RegimeRanging       MarketRegime = "ranging"
	RegimeBreakout      MarketRegime = "breakout"
	RegimeConsolidation MarketRegime = "consolidation"
)

// RiskLevel represents the coarse risk classification of a snapshot
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// OHLCV represents a single candlestick
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// MACD holds the moving average convergence/divergence reading
type MACD struct {
	Line       float64 `json:"line"`
	Signal     float64 `json:"signal"`
	Divergence bool    `json:"divergence"`
}

// MarketConditionSnapshot is a single timestamped reading of a symbol's
// derived market indicators.
type MarketConditionSnapshot struct {
	Symbol           string          `json:"symbol"`
	Timestamp        time.Time       `json:"timestamp"`
	Price            decimal.Decimal `json:"price"`
	PriceChange24h   float64         `json:"priceChange24h"` // percent
	Volume           decimal.Decimal `json:"volume"`
	VolumeChange24h  float64         `json:"volumeChange24h"`  // percent
	Volatility       float64         `json:"volatility"`       // annualized percent
	VolatilityChange float64         `json:"volatilityChange"` // percent vs prior sample
	Trend            Trend           `json:"trend"`
	TrendStrength    float64         `json:"trendStrength"` // 0-1
	Support          decimal.Decimal `json:"support"`
	Resistance       decimal.Decimal `json:"resistance"`
	RSI              float64         `json:"rsi"` // 0-100
	MACD             MACD            `json:"macd"`
	Regime           MarketRegime    `json:"regime"`
	RiskLevel        RiskLevel       `json:"riskLevel"`
}

// MarketEventType identifies a detected market condition
type MarketEventType string

const (
	EventVolatilitySpike   MarketEventType = "volatility_spike"
	EventVolumeSurge       MarketEventType = "volume_surge"
	EventTrendReversal     MarketEventType = "trend_reversal"
	EventBreakout          MarketEventType = "breakout"
	EventRegimeChange      MarketEventType = "regime_change"
	EventExtremeOscillator MarketEventType = "extreme_oscillator"
)

// EventSeverity grades a market event
type EventSeverity string

const (
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// RecommendedAction is the advisory response attached to an event
type RecommendedAction string

const (
	ActionPauseTrading RecommendedAction = "pause_trading"
	ActionReduceSize   RecommendedAction = "reduce_size"
	ActionIncreaseSize RecommendedAction = "increase_size"
	ActionTightenStops RecommendedAction = "tighten_stops"
	ActionWidenStops   RecommendedAction = "widen_stops"
	ActionNoAction     RecommendedAction = "no_action"
)

// MarketEvent is a discrete condition detected by comparing two snapshots
type MarketEvent struct {
	ID          string             `json:"id"`
	Type        MarketEventType    `json:"type"`
	Symbol      string             `json:"symbol"`
	Severity    EventSeverity      `json:"severity"`
	Description string             `json:"description"`
	Timestamp   time.Time          `json:"timestamp"`
	Evidence    map[string]float64 `json:"evidence"`
	Action      RecommendedAction  `json:"action"`
}

// Clone returns a deep copy so callers cannot mutate a recorded event
func (e MarketEvent) Clone() MarketEvent {
	out := e
	if e.Evidence != nil {
		out.Evidence = make(map[string]float64, len(e.Evidence))
		for k, v := range e.Evidence {
			out.Evidence[k] = v
		}
	}
	return out
}
