package data

import (
	"fmt"
	"math"
	"strings"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

// SnapshotIssue describes one failed validation check
type SnapshotIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateSnapshot checks a sampled snapshot before it can become current.
// Garbage readings would otherwise fire spurious events.
func ValidateSnapshot(symbol string, s types.MarketConditionSnapshot) error {
	var issues []SnapshotIssue

	if s.Symbol != symbol {
		issues = append(issues, SnapshotIssue{"symbol", fmt.Sprintf("got %q, want %q", s.Symbol, symbol)})
	}
	if s.Timestamp.IsZero() {
		issues = append(issues, SnapshotIssue{"timestamp", "missing"})
	}
	if !s.Price.IsPositive() {
		issues = append(issues, SnapshotIssue{"price", "must be positive"})
	}
	if s.Volume.IsNegative() {
		issues = append(issues, SnapshotIssue{"volume", "must not be negative"})
	}
	if s.RSI < 0 || s.RSI > 100 || math.IsNaN(s.RSI) {
		issues = append(issues, SnapshotIssue{"rsi", fmt.Sprintf("%v outside [0,100]", s.RSI)})
	}
	if s.TrendStrength < 0 || s.TrendStrength > 1 || math.IsNaN(s.TrendStrength) {
		issues = append(issues, SnapshotIssue{"trendStrength", fmt.Sprintf("%v outside [0,1]", s.TrendStrength)})
	}
	if s.Volatility < 0 || math.IsNaN(s.Volatility) || math.IsInf(s.Volatility, 0) {
		issues = append(issues, SnapshotIssue{"volatility", fmt.Sprintf("%v is not a valid volatility", s.Volatility)})
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"priceChange24h", s.PriceChange24h},
		{"volumeChange24h", s.VolumeChange24h},
		{"volatilityChange", s.VolatilityChange},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			issues = append(issues, SnapshotIssue{f.name, "not a finite number"})
		}
	}
	if !s.Support.IsZero() && !s.Resistance.IsZero() && s.Support.GreaterThan(s.Resistance) {
		issues = append(issues, SnapshotIssue{"support", "above resistance"})
	}
	switch s.Trend {
	case types.TrendBullish, types.TrendBearish, types.TrendSideways:
	default:
		issues = append(issues, SnapshotIssue{"trend", fmt.Sprintf("unknown trend %q", s.Trend)})
	}
	switch s.Regime {
	case types.RegimeTrending, types.RegimeRanging, types.RegimeBreakout, types.RegimeConsolidation:
	default:
		issues = append(issues, SnapshotIssue{"regime", fmt.Sprintf("unknown regime %q", s.Regime)})
	}

	if len(issues) == 0 {
		return nil
	}

	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.Field + ": " + is.Message
	}
	return fmt.Errorf("%w for %s: %s", ErrInvalidSnapshot, symbol, strings.Join(parts, "; "))
}
