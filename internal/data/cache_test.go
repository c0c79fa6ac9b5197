package data_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/data"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/shopspring/decimal"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func validSnapshot(symbol string, ts time.Time, vol float64) types.MarketConditionSnapshot {
	return types.MarketConditionSnapshot{
		Symbol:        symbol,
		Timestamp:     ts,
		Price:         decimal.NewFromInt(100),
		Volume:        decimal.NewFromInt(5000),
		Volatility:    vol,
		Trend:         types.TrendSideways,
		TrendStrength: 0.3,
		Support:       decimal.NewFromInt(90),
		Resistance:    decimal.NewFromInt(110),
		RSI:           50,
		Regime:        types.RegimeRanging,
		RiskLevel:     types.RiskLow,
	}
}

func TestCacheAdvanceShiftsPair(t *testing.T) {
	cache := data.NewSnapshotCache()

	first, err := cache.Advance(validSnapshot("SOL/USDT", base, 20))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if first.HasPrevious {
		t.Error("first sample should have no previous")
	}

	second, err := cache.Advance(validSnapshot("SOL/USDT", base.Add(10*time.Second), 42))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !second.HasPrevious || second.Previous.Volatility != 20 || second.Current.Volatility != 42 {
		t.Errorf("unexpected pair: %+v", second)
	}
	if math.Abs(second.Current.VolatilityChange-110) > 1e-9 {
		t.Errorf("expected volatility change 110%%, got %v", second.Current.VolatilityChange)
	}

	pair, ok := cache.Pair("SOL/USDT")
	if !ok || !pair.Current.Timestamp.Equal(base.Add(10*time.Second)) {
		t.Errorf("Pair did not return the latest sample: %+v", pair)
	}
}

func TestCacheRejectsOutOfOrderSnapshots(t *testing.T) {
	cache := data.NewSnapshotCache()
	if _, err := cache.Advance(validSnapshot("SOL/USDT", base, 20)); err != nil {
		t.Fatal(err)
	}

	for _, ts := range []time.Time{base, base.Add(-time.Second)} {
		if _, err := cache.Advance(validSnapshot("SOL/USDT", ts, 99)); !errors.Is(err, data.ErrStaleSnapshot) {
			t.Errorf("expected ErrStaleSnapshot for %s, got %v", ts, err)
		}
	}

	cur, _ := cache.Current("SOL/USDT")
	if cur.Volatility != 20 {
		t.Errorf("rejected sample replaced current: %+v", cur)
	}
	if pair, _ := cache.Pair("SOL/USDT"); pair.HasPrevious {
		t.Error("rejected sample shifted the pair")
	}
}

func TestCacheKeepsSourceVolatilityChangeWithoutPrevious(t *testing.T) {
	cache := data.NewSnapshotCache()
	snap := validSnapshot("SOL/USDT", base, 0)
	if _, err := cache.Advance(snap); err != nil {
		t.Fatal(err)
	}

	next := validSnapshot("SOL/USDT", base.Add(time.Second), 30)
	next.VolatilityChange = 12
	pair, err := cache.Advance(next)
	if err != nil {
		t.Fatal(err)
	}
	if pair.Current.VolatilityChange != 12 {
		t.Errorf("zero previous volatility should keep the reported change, got %v", pair.Current.VolatilityChange)
	}
}

func TestCacheStatus(t *testing.T) {
	cache := data.NewSnapshotCache()
	if _, err := cache.Advance(validSnapshot("ETH/USDT", base, 20)); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Advance(validSnapshot("SOL/USDT", base.Add(-time.Minute), 20)); err != nil {
		t.Fatal(err)
	}
	cache.RecordFailure("SOL/USDT", errors.New("upstream down"), base)

	status := cache.Status([]string{"SOL/USDT", "BTC/USDT", "ETH/USDT"}, base.Add(20*time.Second), 30*time.Second)
	if len(status) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(status))
	}

	byName := map[string]data.SymbolStatus{}
	for _, s := range status {
		byName[s.Symbol] = s
	}
	if byName["ETH/USDT"].Stale {
		t.Error("ETH sampled 20s ago should be fresh")
	}
	if !byName["SOL/USDT"].Stale || byName["SOL/USDT"].LastError != "upstream down" {
		t.Errorf("SOL should be stale with its last error: %+v", byName["SOL/USDT"])
	}
	if !byName["BTC/USDT"].Stale || !byName["BTC/USDT"].LastSampleAt.IsZero() {
		t.Errorf("never-sampled symbol should be stale: %+v", byName["BTC/USDT"])
	}
	if status[0].Symbol != "BTC/USDT" {
		t.Errorf("statuses should be sorted, got %s first", status[0].Symbol)
	}
}

func TestCacheCurrentAll(t *testing.T) {
	cache := data.NewSnapshotCache()
	cache.RecordFailure("BTC/USDT", errors.New("x"), base)
	for _, s := range []string{"SOL/USDT", "ETH/USDT"} {
		if _, err := cache.Advance(validSnapshot(s, base, 20)); err != nil {
			t.Fatal(err)
		}
	}

	all := cache.CurrentAll()
	if len(all) != 2 {
		t.Fatalf("expected only sampled symbols, got %v", all)
	}
	if _, ok := all["BTC/USDT"]; ok {
		t.Error("failed-only symbol should not have a current snapshot")
	}
}

func TestValidateSnapshot(t *testing.T) {
	good := validSnapshot("SOL/USDT", base, 20)
	if err := data.ValidateSnapshot("SOL/USDT", good); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(s *types.MarketConditionSnapshot)
	}{
		{"wrong symbol", func(s *types.MarketConditionSnapshot) { s.Symbol = "ETH/USDT" }},
		{"no timestamp", func(s *types.MarketConditionSnapshot) { s.Timestamp = time.Time{} }},
		{"zero price", func(s *types.MarketConditionSnapshot) { s.Price = decimal.Zero }},
		{"negative volume", func(s *types.MarketConditionSnapshot) { s.Volume = decimal.NewFromInt(-1) }},
		{"rsi above 100", func(s *types.MarketConditionSnapshot) { s.RSI = 101 }},
		{"strength above 1", func(s *types.MarketConditionSnapshot) { s.TrendStrength = 1.5 }},
		{"nan volatility", func(s *types.MarketConditionSnapshot) { s.Volatility = math.NaN() }},
		{"inf price change", func(s *types.MarketConditionSnapshot) { s.PriceChange24h = math.Inf(1) }},
		{"support above resistance", func(s *types.MarketConditionSnapshot) { s.Support = decimal.NewFromInt(120) }},
		{"unknown trend", func(s *types.MarketConditionSnapshot) { s.Trend = "up" }},
		{"unknown regime", func(s *types.MarketConditionSnapshot) { s.Regime = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			tt.mutate(&s)
			if err := data.ValidateSnapshot("SOL/USDT", s); !errors.Is(err, data.ErrInvalidSnapshot) {
				t.Errorf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}
