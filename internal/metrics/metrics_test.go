package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveSample("SOL/USDT", 10*time.Millisecond, nil)
	m.ObserveSample("SOL/USDT", 10*time.Millisecond, errors.New("x"))
	m.ObserveSample("SOL/USDT", 10*time.Millisecond, nil)
	m.ObserveEvent("volatility_spike", "critical")
	m.ObserveAdjustment("volatility_spike", metrics.OutcomeRegistered)
	m.ObserveTransition("active")
	m.SetActive("SOL/USDT", 3)

	if got := testutil.ToFloat64(m.Samples.WithLabelValues("SOL/USDT", metrics.ResultOK)); got != 2 {
		t.Errorf("expected 2 ok samples, got %v", got)
	}
	if got := testutil.ToFloat64(m.Samples.WithLabelValues("SOL/USDT", metrics.ResultError)); got != 1 {
		t.Errorf("expected 1 failed sample, got %v", got)
	}
	if got := testutil.ToFloat64(m.Events.WithLabelValues("volatility_spike", "critical")); got != 1 {
		t.Errorf("expected 1 event, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveAdjustments.WithLabelValues("SOL/USDT")); got != 3 {
		t.Errorf("expected gauge 3, got %v", got)
	}
}

func TestMetricsFeedDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	dropped := 0.0
	m.RegisterFeedDrops(func() float64 { return dropped })
	dropped = 7

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == "adaptive_feed_dropped_total" {
			if got := f.GetMetric()[0].GetCounter().GetValue(); got != 7 {
				t.Errorf("expected 7 drops, got %v", got)
			}
			return
		}
	}
	t.Error("feed_dropped_total not registered")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveSample("x", time.Second, nil)
	m.ObserveEvent("a", "b")
	m.ObserveAdjustment("a", "b")
	m.ObserveTransition("a")
	m.SetActive("x", 1)
	m.RegisterFeedDrops(func() float64 { return 0 })
}
