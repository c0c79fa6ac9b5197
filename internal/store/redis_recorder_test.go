package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/events"
	"github.com/atlas-desktop/adaptive-backend/internal/store"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeRedis struct {
	mu      sync.Mutex
	lists   map[string][]string
	trims   map[string]int64
	pushErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{lists: map[string][]string{}, trims: map[string]int64{}}
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	for _, v := range values {
		f.lists[key] = append([]string{string(v.([]byte))}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trims[key] = stop
	if l := f.lists[key]; int64(len(l)) > stop+1 {
		f.lists[key] = l[start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) list(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists[key]...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRecorderWritesPerSymbolLists(t *testing.T) {
	feed := events.NewFeed(zap.NewNop(), events.DefaultFeedConfig())
	defer feed.Close()
	fake := newFakeRedis()

	rec := store.NewRedisRecorder(zap.NewNop(), fake, feed, store.RecorderConfig{KeyPrefix: "test", MaxEntries: 2})
	rec.Start(context.Background())
	defer rec.Stop()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		feed.PublishEvent(types.MarketEvent{
			ID:        "evt",
			Type:      types.EventVolatilitySpike,
			Symbol:    "SOL/USDT",
			Severity:  types.SeverityHigh,
			Timestamp: ts.Add(time.Duration(i) * time.Second),
		})
	}
	feed.PublishTransition(types.AdjustmentTransition{
		Adjustment: types.DynamicAdjustment{ID: "adj_1", Symbol: "SOL/USDT"},
		From:       types.StateProposed,
		To:         types.StateActive,
	})

	waitFor(t, func() bool { return rec.Stats().Written == 4 })

	evts := fake.list("test:events:SOL/USDT")
	if len(evts) != 2 {
		t.Fatalf("expected list trimmed to 2, got %d", len(evts))
	}
	var newest types.MarketEvent
	if err := json.Unmarshal([]byte(evts[0]), &newest); err != nil {
		t.Fatal(err)
	}
	if !newest.Timestamp.Equal(ts.Add(2 * time.Second)) {
		t.Errorf("newest entry should be first, got %s", newest.Timestamp)
	}

	adjs := fake.list("test:adjustments:SOL/USDT")
	if len(adjs) != 1 {
		t.Fatalf("expected one adjustment entry, got %d", len(adjs))
	}
}

func TestRecorderSwallowsWriteErrors(t *testing.T) {
	feed := events.NewFeed(zap.NewNop(), events.DefaultFeedConfig())
	defer feed.Close()
	fake := newFakeRedis()
	fake.pushErr = errors.New("connection refused")

	rec := store.NewRedisRecorder(zap.NewNop(), fake, feed, store.DefaultRecorderConfig())
	rec.Start(context.Background())

	feed.PublishEvent(types.MarketEvent{Symbol: "SOL/USDT", Type: types.EventBreakout})
	waitFor(t, func() bool { return rec.Stats().Failed == 1 })

	rec.Stop()
	rec.Stop()
	if rec.Stats().Written != 0 {
		t.Errorf("expected no successful writes, got %d", rec.Stats().Written)
	}
}

func TestRecorderConfigEnabled(t *testing.T) {
	if store.DefaultRecorderConfig().Enabled() {
		t.Error("recorder should be disabled without an address")
	}
	cfg := store.DefaultRecorderConfig()
	cfg.Addr = "localhost:6379"
	if !cfg.Enabled() {
		t.Error("recorder should be enabled with an address")
	}
}
