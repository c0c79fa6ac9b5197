// Package regime classifies the structural market regime of a symbol from
// recent closing prices.
// Detects: Trending, Ranging, Breakout, Consolidation
package regime

import (
	"math"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

// Features are the statistics a regime decision is based on
type Features struct {
	Trend         float64 `json:"trend"`          // normalized drift, -1 to 1
	Volatility    float64 `json:"volatility"`     // annualized percent
	MeanReversion float64 `json:"mean_reversion"` // lag-1 autocorrelation
	RangeWidth    float64 `json:"range_width"`    // (high-low)/mid of the window, percent
	BreakingOut   bool    `json:"breaking_out"`   // last close outside the prior window range
}

// RegimeConfig configures the classifier
type RegimeConfig struct {
	WindowSize         int     `mapstructure:"window_size"`         // closes used for features
	PeriodsPerYear     float64 `mapstructure:"periods_per_year"`    // annualization factor for bar returns
	TrendThreshold     float64 `mapstructure:"trend_threshold"`     // |trend| above this is trending
	ConsolidationWidth float64 `mapstructure:"consolidation_width"` // range width below this is consolidation
	LowVolatility      float64 `mapstructure:"low_volatility"`      // consolidation also needs vol below this
}

// DefaultRegimeConfig returns sensible defaults for hourly bars
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		WindowSize:         50,
		PeriodsPerYear:     24 * 365,
		TrendThreshold:     0.3,
		ConsolidationWidth: 3,
		LowVolatility:      25,
	}
}

// Classifier turns closing prices into a regime. It is stateless.
type Classifier struct {
	config RegimeConfig
}

// NewClassifier creates a classifier
func NewClassifier(config RegimeConfig) *Classifier {
	def := DefaultRegimeConfig()
	if config.WindowSize < 3 {
		config.WindowSize = def.WindowSize
	}
	if config.PeriodsPerYear <= 0 {
		config.PeriodsPerYear = def.PeriodsPerYear
	}
	return &Classifier{config: config}
}

// Features computes regime features over the trailing window of closes
func (c *Classifier) Features(closes []float64) Features {
	if len(closes) < 3 {
		return Features{}
	}
	window := closes
	if len(window) > c.config.WindowSize {
		window = window[len(window)-c.config.WindowSize:]
	}

	returns := LogReturns(window)
	f := Features{
		Trend:         Trend(returns),
		Volatility:    Volatility(returns) * math.Sqrt(c.config.PeriodsPerYear) * 100,
		MeanReversion: MeanReversion(returns),
	}

	// range of everything but the last close, so the last one can break it
	prior := window[:len(window)-1]
	lo, hi := prior[0], prior[0]
	for _, p := range prior {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	if mid := (hi + lo) / 2; mid > 0 {
		f.RangeWidth = (hi - lo) / mid * 100
	}
	last := window[len(window)-1]
	f.BreakingOut = last > hi || last < lo

	return f
}

// Classify maps features to a regime. Breakouts win over trends, then quiet
// narrow ranges are consolidation, everything else is ranging.
func (c *Classifier) Classify(f Features) types.MarketRegime {
	switch {
	case f.BreakingOut:
		return types.RegimeBreakout
	case math.Abs(f.Trend) > c.config.TrendThreshold:
		return types.RegimeTrending
	case f.RangeWidth < c.config.ConsolidationWidth && f.Volatility < c.config.LowVolatility:
		return types.RegimeConsolidation
	default:
		return types.RegimeRanging
	}
}

// Detect derives features from closes and classifies them
func (c *Classifier) Detect(closes []float64) (types.MarketRegime, Features) {
	f := c.Features(closes)
	return c.Classify(f), f
}

// LogReturns returns the log returns of a price series
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

// Trend calculates drift normalized by volatility, clamped to [-1, 1]
func Trend(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	sum := 0.0
	for _, r := range returns {
		sum += r
	}

	vol := Volatility(returns)
	if vol == 0 {
		return 0
	}

	trend := sum / (vol * math.Sqrt(float64(len(returns))))
	if trend > 1 {
		trend = 1
	} else if trend < -1 {
		trend = -1
	}
	return trend
}

// Volatility calculates the sample standard deviation of returns
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance)
}

// MeanReversion calculates lag-1 autocorrelation (negative = mean reverting)
func MeanReversion(returns []float64) float64 {
	n := len(returns)
	if n < 3 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	autocovariance := 0.0
	variance := 0.0
	for i := 1; i < n; i++ {
		autocovariance += (returns[i] - mean) * (returns[i-1] - mean)
		variance += (returns[i] - mean) * (returns[i] - mean)
	}
	if variance == 0 {
		return 0
	}
	return autocovariance / variance
}
