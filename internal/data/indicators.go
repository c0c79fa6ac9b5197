package data

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/regime"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// IndicatorConfig configures IndicatorSource
type IndicatorConfig struct {
	Lookback      int     `mapstructure:"lookback"`       // bars pulled per snapshot
	BarsPerDay    int     `mapstructure:"bars_per_day"`   // bars in a 24h window
	LevelsWindow  int     `mapstructure:"levels_window"`  // bars used for support/resistance
	RSIPeriod     int     `mapstructure:"rsi_period"`     // Wilder RSI period
	MACDFast      int     `mapstructure:"macd_fast"`      // fast EMA period
	MACDSlow      int     `mapstructure:"macd_slow"`      // slow EMA period
	MACDSignal    int     `mapstructure:"macd_signal"`    // signal EMA period
	SidewaysBand  float64 `mapstructure:"sideways_band"`  // |trend| at or below this is sideways
	DivergenceLag int     `mapstructure:"divergence_lag"` // bars compared for MACD divergence
}

// DefaultIndicatorConfig returns defaults for hourly bars
func DefaultIndicatorConfig() IndicatorConfig {
	return IndicatorConfig{
		Lookback:      200,
		BarsPerDay:    24,
		LevelsWindow:  20,
		RSIPeriod:     14,
		MACDFast:      12,
		MACDSlow:      26,
		MACDSignal:    9,
		SidewaysBand:  0.2,
		DivergenceLag: 9,
	}
}

// IndicatorSource derives snapshots from OHLCV bars
type IndicatorSource struct {
	bars       BarProvider
	classifier *regime.Classifier
	config     IndicatorConfig
	now        func() time.Time
}

// NewIndicatorSource creates a source computing indicators over bars
func NewIndicatorSource(bars BarProvider, classifier *regime.Classifier, config IndicatorConfig) *IndicatorSource {
	def := DefaultIndicatorConfig()
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	if config.BarsPerDay <= 0 {
		config.BarsPerDay = def.BarsPerDay
	}
	if config.LevelsWindow <= 0 {
		config.LevelsWindow = def.LevelsWindow
	}
	if config.RSIPeriod <= 0 {
		config.RSIPeriod = def.RSIPeriod
	}
	if config.MACDFast <= 0 || config.MACDSlow <= config.MACDFast || config.MACDSignal <= 0 {
		config.MACDFast, config.MACDSlow, config.MACDSignal = def.MACDFast, def.MACDSlow, def.MACDSignal
	}
	if config.DivergenceLag <= 0 {
		config.DivergenceLag = def.DivergenceLag
	}
	if classifier == nil {
		classifier = regime.NewClassifier(regime.DefaultRegimeConfig())
	}
	return &IndicatorSource{
		bars:       bars,
		classifier: classifier,
		config:     config,
		now:        time.Now,
	}
}

// MinBars is the fewest bars a snapshot can be computed from
func (s *IndicatorSource) MinBars() int {
	return s.config.MinBars()
}

// MinBars is the fewest bars the configured periods need
func (c IndicatorConfig) MinBars() int {
	n := c.MACDSlow + c.MACDSignal
	if m := 2 * c.BarsPerDay; m > n {
		n = m
	}
	if m := c.RSIPeriod + 1; m > n {
		n = m
	}
	return n
}

// GetSnapshot computes a snapshot from the symbol's latest bars. The
// snapshot is stamped with the sampling time; the volatility change is left
// for the cache to derive.
func (s *IndicatorSource) GetSnapshot(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
	bars, err := s.bars.Bars(ctx, symbol, s.config.Lookback)
	if err != nil {
		return types.MarketConditionSnapshot{}, err
	}
	if len(bars) < s.MinBars() {
		return types.MarketConditionSnapshot{}, fmt.Errorf("%w: %s has %d bars, need %d",
			ErrNotEnoughData, symbol, len(bars), s.MinBars())
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}
	last := bars[len(bars)-1]

	reg, features := s.classifier.Detect(closes)
	trend, strength := s.trend(features.Trend)
	support, resistance := s.levels(bars)
	volume, volumeChange := s.volume24h(bars)

	snap := types.MarketConditionSnapshot{
		Symbol:          symbol,
		Timestamp:       s.now(),
		Price:           last.Close,
		PriceChange24h:  pctChange(closes[len(closes)-1-s.config.BarsPerDay], closes[len(closes)-1]),
		Volume:          volume,
		VolumeChange24h: volumeChange,
		Volatility:      features.Volatility,
		Trend:           trend,
		TrendStrength:   strength,
		Support:         support,
		Resistance:      resistance,
		RSI:             RSI(closes, s.config.RSIPeriod),
		MACD:            s.macd(closes),
		Regime:          reg,
		RiskLevel:       RiskFromVolatility(features.Volatility),
	}
	return snap, nil
}

func (s *IndicatorSource) trend(t float64) (types.Trend, float64) {
	strength := math.Min(math.Abs(t), 1)
	switch {
	case t > s.config.SidewaysBand:
		return types.TrendBullish, strength
	case t < -s.config.SidewaysBand:
		return types.TrendBearish, strength
	default:
		return types.TrendSideways, strength
	}
}

// levels returns the lowest low and highest high of the window before the
// latest bar
func (s *IndicatorSource) levels(bars []types.OHLCV) (decimal.Decimal, decimal.Decimal) {
	prior := bars[:len(bars)-1]
	if len(prior) > s.config.LevelsWindow {
		prior = prior[len(prior)-s.config.LevelsWindow:]
	}
	lo, hi := prior[0].Low, prior[0].High
	for _, b := range prior[1:] {
		lo = decimal.Min(lo, b.Low)
		hi = decimal.Max(hi, b.High)
	}
	return lo, hi
}

// volume24h sums the last day of volume and compares it with the day before
func (s *IndicatorSource) volume24h(bars []types.OHLCV) (decimal.Decimal, float64) {
	n := s.config.BarsPerDay
	cur, prev := decimal.Zero, decimal.Zero
	for _, b := range bars[len(bars)-n:] {
		cur = cur.Add(b.Volume)
	}
	for _, b := range bars[len(bars)-2*n : len(bars)-n] {
		prev = prev.Add(b.Volume)
	}
	return cur, pctChange(prev.InexactFloat64(), cur.InexactFloat64())
}

// macd computes the MACD line and signal. Divergence is flagged when price and
// the MACD line moved in opposite directions over the last DivergenceLag bars.
func (s *IndicatorSource) macd(closes []float64) types.MACD {
	fast := EMA(closes, s.config.MACDFast)
	slow := EMA(closes, s.config.MACDSlow)

	line := make([]float64, 0, len(closes))
	for i := s.config.MACDSlow - 1; i < len(closes); i++ {
		line = append(line, fast[i]-slow[i])
	}
	signal := EMA(line, s.config.MACDSignal)

	out := types.MACD{
		Line:   line[len(line)-1],
		Signal: signal[len(signal)-1],
	}

	lag := s.config.DivergenceLag
	if len(line) > lag {
		priceMove := closes[len(closes)-1] - closes[len(closes)-1-lag]
		lineMove := line[len(line)-1] - line[len(line)-1-lag]
		out.Divergence = priceMove*lineMove < 0
	}
	return out
}

// EMA returns the exponential moving average series of values, seeded with
// the simple average of the first period values. Entries before the seed are
// zero.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	out[period-1] = sum / float64(period)

	k := 2 / (float64(period) + 1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes Wilder's relative strength index over closes
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 50
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
	}

	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// RiskFromVolatility buckets annualized volatility into a risk level
func RiskFromVolatility(vol float64) types.RiskLevel {
	switch {
	case vol >= 100:
		return types.RiskExtreme
	case vol >= 60:
		return types.RiskHigh
	case vol >= 30:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
