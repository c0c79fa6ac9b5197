package events_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/events"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// calm returns a snapshot that fires no rule on its own
func calm(symbol string, ts time.Time) types.MarketConditionSnapshot {
	return types.MarketConditionSnapshot{
		Symbol:        symbol,
		Timestamp:     ts,
		Price:         decimal.NewFromInt(100),
		Volume:        decimal.NewFromInt(5000),
		Volatility:    20,
		Trend:         types.TrendSideways,
		TrendStrength: 0.3,
		Support:       decimal.NewFromInt(90),
		Resistance:    decimal.NewFromInt(110),
		RSI:           50,
		Regime:        types.RegimeRanging,
		RiskLevel:     types.RiskLow,
	}
}

func pair() (types.MarketConditionSnapshot, types.MarketConditionSnapshot) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return calm("BTCUSD", t0), calm("BTCUSD", t0.Add(10*time.Second))
}

func TestDetectNoEvents(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())
	prev, cur := pair()

	if got := d.Detect(prev, cur); len(got) != 0 {
		t.Fatalf("Expected no events, got %d: %+v", len(got), got)
	}
}

func TestVolatilitySpikeBoundary(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())

	tests := []struct {
		change   float64
		fires    bool
		severity types.EventSeverity
		action   types.RecommendedAction
	}{
		{change: 50, fires: false},
		{change: 50.01, fires: true, severity: types.SeverityMedium, action: types.ActionTightenStops},
		{change: 75, fires: true, severity: types.SeverityMedium, action: types.ActionTightenStops},
		{change: 76, fires: true, severity: types.SeverityHigh, action: types.ActionWidenStops},
		{change: 100, fires: true, severity: types.SeverityHigh, action: types.ActionWidenStops},
		{change: 110, fires: true, severity: types.SeverityCritical, action: types.ActionWidenStops},
	}

	for _, tt := range tests {
		prev, cur := pair()
		cur.VolatilityChange = tt.change

		got := d.Detect(prev, cur)
		if !tt.fires {
			if len(got) != 0 {
				t.Errorf("change=%v: expected no event, got %+v", tt.change, got)
			}
			continue
		}
		if len(got) != 1 || got[0].Type != types.EventVolatilitySpike {
			t.Fatalf("change=%v: expected one volatility spike, got %+v", tt.change, got)
		}
		if got[0].Severity != tt.severity {
			t.Errorf("change=%v: severity = %s, want %s", tt.change, got[0].Severity, tt.severity)
		}
		if got[0].Action != tt.action {
			t.Errorf("change=%v: action = %s, want %s", tt.change, got[0].Action, tt.action)
		}
	}
}

func TestVolatilitySpikeScenarioEvidence(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())
	prev, cur := pair()
	cur.Volatility = 42
	cur.VolatilityChange = 110

	got := d.Detect(prev, cur)
	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	ev := got[0]
	if ev.Severity != types.SeverityCritical {
		t.Errorf("Expected critical severity, got %s", ev.Severity)
	}
	if ev.Evidence["previous_volatility"] != 20 {
		t.Errorf("Expected previous volatility 20, got %v", ev.Evidence["previous_volatility"])
	}
	if !ev.Timestamp.Equal(cur.Timestamp) {
		t.Errorf("Event should carry the current snapshot time")
	}
}

func TestVolumeSurgeSeverity(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())

	tests := []struct {
		change   float64
		fires    bool
		severity types.EventSeverity
	}{
		{change: 200, fires: false},
		{change: 250, fires: true, severity: types.SeverityMedium},
		{change: 301, fires: true, severity: types.SeverityHigh},
		{change: 501, fires: true, severity: types.SeverityCritical},
	}

	for _, tt := range tests {
		prev, cur := pair()
		cur.VolumeChange24h = tt.change
		got := d.Detect(prev, cur)

		if !tt.fires {
			if len(got) != 0 {
				t.Errorf("change=%v: expected no event", tt.change)
			}
			continue
		}
		if len(got) != 1 || got[0].Type != types.EventVolumeSurge {
			t.Fatalf("change=%v: expected volume surge, got %+v", tt.change, got)
		}
		if got[0].Severity != tt.severity {
			t.Errorf("change=%v: severity = %s, want %s", tt.change, got[0].Severity, tt.severity)
		}
		if got[0].Action != types.ActionIncreaseSize {
			t.Errorf("change=%v: action = %s", tt.change, got[0].Action)
		}
		if got[0].Evidence["volume"] != 5000 {
			t.Errorf("Expected volume evidence 5000, got %v", got[0].Evidence["volume"])
		}
	}
}

func TestTrendReversal(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())

	prev, cur := pair()
	prev.Trend = types.TrendBullish
	cur.Trend = types.TrendBearish
	cur.TrendStrength = 0.7
	if got := d.Detect(prev, cur); len(got) != 0 {
		t.Errorf("Strength 0.7 must not fire, got %+v", got)
	}

	cur.TrendStrength = 0.75
	got := d.Detect(prev, cur)
	if len(got) != 1 || got[0].Severity != types.SeverityMedium || got[0].Action != types.ActionPauseTrading {
		t.Fatalf("Expected medium trend reversal, got %+v", got)
	}

	cur.TrendStrength = 0.85
	got = d.Detect(prev, cur)
	if len(got) != 1 || got[0].Severity != types.SeverityHigh {
		t.Fatalf("Expected high trend reversal, got %+v", got)
	}

	// same trend never fires regardless of strength
	cur.Trend = types.TrendBullish
	if got := d.Detect(prev, cur); len(got) != 0 {
		t.Errorf("Unchanged trend must not fire, got %+v", got)
	}
}

func TestBreakout(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())

	prev, cur := pair()
	cur.Price = decimal.NewFromInt(110)
	if got := d.Detect(prev, cur); len(got) != 0 {
		t.Errorf("Price at resistance must not fire, got %+v", got)
	}

	cur.Price = decimal.NewFromFloat(110.5)
	cur.PriceChange24h = 4
	got := d.Detect(prev, cur)
	if len(got) != 1 || got[0].Type != types.EventBreakout || got[0].Severity != types.SeverityMedium {
		t.Fatalf("Expected medium breakout, got %+v", got)
	}

	cur.Price = decimal.NewFromInt(80)
	cur.PriceChange24h = -12
	got = d.Detect(prev, cur)
	if len(got) != 1 || got[0].Severity != types.SeverityHigh {
		t.Fatalf("Expected high breakdown, got %+v", got)
	}
	if got[0].Action != types.ActionIncreaseSize {
		t.Errorf("Unexpected action %s", got[0].Action)
	}
}

func TestRegimeChange(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())
	prev, cur := pair()
	cur.Regime = types.RegimeTrending

	got := d.Detect(prev, cur)
	if len(got) != 1 || got[0].Type != types.EventRegimeChange {
		t.Fatalf("Expected regime change, got %+v", got)
	}
	if got[0].Severity != types.SeverityMedium || got[0].Action != types.ActionNoAction {
		t.Errorf("Unexpected severity/action: %s/%s", got[0].Severity, got[0].Action)
	}
}

func TestExtremeOscillatorInclusive(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())

	tests := []struct {
		rsi    float64
		fires  bool
		action types.RecommendedAction
	}{
		{rsi: 84.9, fires: false},
		{rsi: 85, fires: true, action: types.ActionReduceSize},
		{rsi: 15, fires: true, action: types.ActionIncreaseSize},
		{rsi: 15.1, fires: false},
	}

	for _, tt := range tests {
		prev, cur := pair()
		cur.RSI = tt.rsi
		got := d.Detect(prev, cur)
		if tt.fires != (len(got) == 1) {
			t.Fatalf("rsi=%v: fires=%v, got %+v", tt.rsi, tt.fires, got)
		}
		if tt.fires && got[0].Action != tt.action {
			t.Errorf("rsi=%v: action = %s, want %s", tt.rsi, got[0].Action, tt.action)
		}
	}
}

func TestMultipleEventsInRuleOrder(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())
	prev, cur := pair()
	cur.VolatilityChange = 80
	cur.VolumeChange24h = 400
	cur.Regime = types.RegimeBreakout
	cur.RSI = 90

	got := d.Detect(prev, cur)
	want := []types.MarketEventType{
		types.EventVolatilitySpike,
		types.EventVolumeSurge,
		types.EventRegimeChange,
		types.EventExtremeOscillator,
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i].Type, want[i])
		}
	}
}

func TestDetectDeterministic(t *testing.T) {
	d := events.NewDetector(events.DefaultThresholds())
	prev, cur := pair()
	cur.VolatilityChange = 120
	cur.RSI = 10

	a := d.Detect(prev, cur)
	b := d.Detect(prev, cur)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Detect is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestCustomThresholds(t *testing.T) {
	th := events.DefaultThresholds()
	th.VolatilitySpike = 20
	d := events.NewDetector(th)

	prev, cur := pair()
	cur.VolatilityChange = 30
	got := d.Detect(prev, cur)
	if len(got) != 1 || got[0].Type != types.EventVolatilitySpike {
		t.Fatalf("Expected overridden threshold to fire, got %+v", got)
	}
}
