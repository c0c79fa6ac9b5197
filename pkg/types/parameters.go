package types

import "sort"

// Param names a tunable strategy parameter
type Param string

const (
	ParamStopLoss             Param = "stop_loss_pct"
	ParamTakeProfit           Param = "take_profit_pct"
	ParamPositionSize         Param = "position_size_pct"
	ParamVolatilityFilter     Param = "volatility_filter"
	ParamVolumeThreshold      Param = "volume_threshold"
	ParamMomentumThreshold    Param = "momentum_threshold"
	ParamTrendFilterEnabled   Param = "trend_filter_enabled"
	ParamTrendFilterThreshold Param = "trend_filter_threshold"
	ParamMACDFast             Param = "macd_fast"
	ParamMACDSlow             Param = "macd_slow"
	ParamMACDSignal           Param = "macd_signal"
	ParamRSIOverbought        Param = "rsi_overbought"
	ParamRSIOversold          Param = "rsi_oversold"
	ParamSessionAsia          Param = "session_filter_asia"
	ParamSessionEurope        Param = "session_filter_europe"
	ParamSessionUS            Param = "session_filter_us"
)

// numericParams and flagParams list every parameter by kind
var (
	numericParams = []Param{
		ParamStopLoss, ParamTakeProfit, ParamPositionSize, ParamVolatilityFilter,
		ParamVolumeThreshold, ParamMomentumThreshold, ParamTrendFilterThreshold,
		ParamMACDFast, ParamMACDSlow, ParamMACDSignal, ParamRSIOverbought, ParamRSIOversold,
	}
	flagParams = []Param{
		ParamTrendFilterEnabled, ParamSessionAsia, ParamSessionEurope, ParamSessionUS,
	}
)

// IsNumeric reports whether p is a known numeric parameter
func (p Param) IsNumeric() bool {
	for _, n := range numericParams {
		if n == p {
			return true
		}
	}
	return false
}

// IsFlag reports whether p is a known boolean parameter
func (p Param) IsFlag() bool {
	for _, f := range flagParams {
		if f == p {
			return true
		}
	}
	return false
}

// ParameterSet is a named mapping of numeric and boolean strategy parameters
type ParameterSet struct {
	StrategyID string            `json:"strategyId"`
	Values     map[Param]float64 `json:"values"`
	Flags      map[Param]bool    `json:"flags"`
}

// NewParameterSet creates an empty parameter set for a strategy
func NewParameterSet(strategyID string) ParameterSet {
	return ParameterSet{
		StrategyID: strategyID,
		Values:     make(map[Param]float64),
		Flags:      make(map[Param]bool),
	}
}

// Clone returns a deep copy of the set
func (p ParameterSet) Clone() ParameterSet {
	out := NewParameterSet(p.StrategyID)
	for k, v := range p.Values {
		out.Values[k] = v
	}
	for k, v := range p.Flags {
		out.Flags[k] = v
	}
	return out
}

// Equal reports whether two sets carry the same strategy and fields
func (p ParameterSet) Equal(other ParameterSet) bool {
	if p.StrategyID != other.StrategyID ||
		len(p.Values) != len(other.Values) ||
		len(p.Flags) != len(other.Flags) {
		return false
	}
	for k, v := range p.Values {
		if ov, ok := other.Values[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range p.Flags {
		if ov, ok := other.Flags[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ParameterDelta is a sparse partial ParameterSet holding only changed fields
type ParameterDelta struct {
	Values map[Param]float64 `json:"values,omitempty"`
	Flags  map[Param]bool    `json:"flags,omitempty"`
}

// IsEmpty reports whether the delta changes nothing
func (d ParameterDelta) IsEmpty() bool {
	return len(d.Values) == 0 && len(d.Flags) == 0
}

// Fields lists the parameters touched by the delta, sorted
func (d ParameterDelta) Fields() []Param {
	fields := make([]Param, 0, len(d.Values)+len(d.Flags))
	for k := range d.Values {
		fields = append(fields, k)
	}
	for k := range d.Flags {
		fields = append(fields, k)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Clone returns a deep copy of the delta
func (d ParameterDelta) Clone() ParameterDelta {
	out := ParameterDelta{}
	if d.Values != nil {
		out.Values = make(map[Param]float64, len(d.Values))
		for k, v := range d.Values {
			out.Values[k] = v
		}
	}
	if d.Flags != nil {
		out.Flags = make(map[Param]bool, len(d.Flags))
		for k, v := range d.Flags {
			out.Flags[k] = v
		}
	}
	return out
}
