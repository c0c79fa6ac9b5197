package data_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/data"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func TestSnapshotterSample(t *testing.T) {
	var n int64
	src := data.SourceFunc(func(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
		i := atomic.AddInt64(&n, 1)
		return validSnapshot(symbol, base.Add(time.Duration(i)*time.Second), 20*float64(i)), nil
	})
	cache := data.NewSnapshotCache()
	s := data.NewSnapshotter(zap.NewNop(), src, cache, data.DefaultSnapshotterConfig())

	if _, err := s.Sample(context.Background(), "SOL/USDT"); err != nil {
		t.Fatalf("first sample failed: %v", err)
	}
	pair, err := s.Sample(context.Background(), "SOL/USDT")
	if err != nil {
		t.Fatalf("second sample failed: %v", err)
	}
	if !pair.HasPrevious || pair.Previous.Volatility != 20 || pair.Current.Volatility != 40 {
		t.Errorf("unexpected pair: %+v", pair)
	}
	if s.Cache() != cache {
		t.Error("Cache() should return the injected cache")
	}
}

func TestSnapshotterSourceErrorLeavesCacheUntouched(t *testing.T) {
	fail := false
	src := data.SourceFunc(func(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
		if fail {
			return types.MarketConditionSnapshot{}, errors.New("upstream 503")
		}
		return validSnapshot(symbol, base, 20), nil
	})
	cache := data.NewSnapshotCache()
	s := data.NewSnapshotter(zap.NewNop(), src, cache, data.DefaultSnapshotterConfig())

	if _, err := s.Sample(context.Background(), "SOL/USDT"); err != nil {
		t.Fatal(err)
	}
	fail = true
	if _, err := s.Sample(context.Background(), "SOL/USDT"); err == nil {
		t.Fatal("expected source error")
	}

	pair, ok := cache.Pair("SOL/USDT")
	if !ok || pair.HasPrevious || !pair.Current.Timestamp.Equal(base) {
		t.Errorf("failed sample changed the pair: %+v", pair)
	}
	status := cache.Status([]string{"SOL/USDT"}, base, time.Minute)
	if status[0].LastError == "" {
		t.Error("failure should be recorded")
	}
}

func TestSnapshotterRejectsInvalidSnapshot(t *testing.T) {
	src := data.SourceFunc(func(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
		s := validSnapshot(symbol, base, 20)
		s.RSI = 250
		return s, nil
	})
	cache := data.NewSnapshotCache()
	s := data.NewSnapshotter(zap.NewNop(), src, cache, data.DefaultSnapshotterConfig())

	if _, err := s.Sample(context.Background(), "SOL/USDT"); !errors.Is(err, data.ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
	if _, ok := cache.Current("SOL/USDT"); ok {
		t.Error("invalid snapshot should not become current")
	}
}

func TestSnapshotterTimesOutSlowSource(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// ignores ctx on purpose
	src := data.SourceFunc(func(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
		<-release
		return validSnapshot(symbol, base, 20), nil
	})
	cache := data.NewSnapshotCache()
	s := data.NewSnapshotter(zap.NewNop(), src, cache, data.SnapshotterConfig{FetchTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := s.Sample(context.Background(), "SOL/USDT")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("sample took %v, fetch timeout not enforced", elapsed)
	}
	if _, ok := cache.Current("SOL/USDT"); ok {
		t.Error("timed out sample should not install a snapshot")
	}
}

func TestGuardedSourceTripsPerSymbol(t *testing.T) {
	var calls int64
	src := data.SourceFunc(func(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
		atomic.AddInt64(&calls, 1)
		if symbol == "BAD/USDT" {
			return types.MarketConditionSnapshot{}, errors.New("boom")
		}
		return validSnapshot(symbol, base, 20), nil
	})

	g := data.NewGuardedSource(zap.NewNop(), src, data.GuardConfig{
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := g.GetSnapshot(context.Background(), "BAD/USDT"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if state := g.BreakerState("BAD/USDT"); state != gobreaker.StateOpen.String() {
		t.Fatalf("expected open breaker, got %s", state)
	}

	before := atomic.LoadInt64(&calls)
	if _, err := g.GetSnapshot(context.Background(), "BAD/USDT"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if atomic.LoadInt64(&calls) != before {
		t.Error("open breaker should not call the source")
	}

	if _, err := g.GetSnapshot(context.Background(), "SOL/USDT"); err != nil {
		t.Errorf("healthy symbol affected by another symbol's breaker: %v", err)
	}
	if state := g.BreakerState("ETH/USDT"); state != gobreaker.StateClosed.String() {
		t.Errorf("unused symbol should report closed, got %s", state)
	}
}

func TestGuardedSourceRateLimitHonorsContext(t *testing.T) {
	src := data.SourceFunc(func(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
		return validSnapshot(symbol, base, 20), nil
	})
	g := data.NewGuardedSource(zap.NewNop(), src, data.GuardConfig{RPS: 0.001, Burst: 1})

	if _, err := g.GetSnapshot(context.Background(), "SOL/USDT"); err != nil {
		t.Fatalf("burst request should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.GetSnapshot(ctx, "SOL/USDT"); err == nil {
		t.Error("expected rate limit wait to fail within the deadline")
	}
}
