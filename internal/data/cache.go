package data

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

// SnapshotPair is the previous/current snapshot of a symbol after a sample
type SnapshotPair struct {
	Symbol      string                        `json:"symbol"`
	Previous    types.MarketConditionSnapshot `json:"previous"`
	Current     types.MarketConditionSnapshot `json:"current"`
	HasPrevious bool                          `json:"hasPrevious"`
}

// SymbolStatus reports sampling freshness for a symbol
type SymbolStatus struct {
	Symbol       string    `json:"symbol"`
	LastSampleAt time.Time `json:"lastSampleAt,omitempty"`
	Stale        bool      `json:"stale"`
	LastError    string    `json:"lastError,omitempty"`
	LastErrorAt  time.Time `json:"lastErrorAt,omitempty"`
}

type symbolState struct {
	mu          sync.RWMutex
	prev        *types.MarketConditionSnapshot
	cur         *types.MarketConditionSnapshot
	lastError   string
	lastErrorAt time.Time
}

// SnapshotCache holds the current and previous snapshot per symbol. Each
// symbol has its own lock, so the pair is always read and written together.
type SnapshotCache struct {
	mu     sync.RWMutex
	states map[string]*symbolState
}

// NewSnapshotCache creates an empty cache
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{states: make(map[string]*symbolState)}
}

func (c *SnapshotCache) state(symbol string, create bool) *symbolState {
	c.mu.RLock()
	st, ok := c.states[symbol]
	c.mu.RUnlock()
	if ok || !create {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[symbol]; ok {
		return st
	}
	st = &symbolState{}
	c.states[symbol] = st
	return st
}

// Advance installs snap as the symbol's current snapshot and shifts the old
// current to previous. The volatility change is derived from the outgoing
// current snapshot when its volatility is positive. A snapshot that is not
// strictly newer than the current one is rejected and nothing changes.
func (c *SnapshotCache) Advance(snap types.MarketConditionSnapshot) (SnapshotPair, error) {
	st := c.state(snap.Symbol, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cur != nil && !snap.Timestamp.After(st.cur.Timestamp) {
		return SnapshotPair{}, fmt.Errorf("%w: %s at %s, current at %s",
			ErrStaleSnapshot, snap.Symbol,
			snap.Timestamp.Format(time.RFC3339Nano), st.cur.Timestamp.Format(time.RFC3339Nano))
	}

	if st.cur != nil && st.cur.Volatility > 0 {
		snap.VolatilityChange = (snap.Volatility - st.cur.Volatility) / st.cur.Volatility * 100
	}

	pair := SnapshotPair{Symbol: snap.Symbol, Current: snap}
	if st.cur != nil {
		pair.Previous = *st.cur
		pair.HasPrevious = true
	}

	st.prev = st.cur
	st.cur = &snap
	st.lastError = ""
	return pair, nil
}

// RecordFailure notes a failed sample without touching the snapshot pair
func (c *SnapshotCache) RecordFailure(symbol string, err error, at time.Time) {
	st := c.state(symbol, true)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastError = err.Error()
	st.lastErrorAt = at
}

// Pair returns the symbol's previous and current snapshots
func (c *SnapshotCache) Pair(symbol string) (SnapshotPair, bool) {
	st := c.state(symbol, false)
	if st == nil {
		return SnapshotPair{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.cur == nil {
		return SnapshotPair{}, false
	}
	pair := SnapshotPair{Symbol: symbol, Current: *st.cur}
	if st.prev != nil {
		pair.Previous = *st.prev
		pair.HasPrevious = true
	}
	return pair, true
}

// Current returns the symbol's current snapshot
func (c *SnapshotCache) Current(symbol string) (types.MarketConditionSnapshot, bool) {
	pair, ok := c.Pair(symbol)
	return pair.Current, ok
}

// CurrentAll returns the current snapshot of every sampled symbol
func (c *SnapshotCache) CurrentAll() map[string]types.MarketConditionSnapshot {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.states))
	for s := range c.states {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()

	out := make(map[string]types.MarketConditionSnapshot, len(symbols))
	for _, s := range symbols {
		if snap, ok := c.Current(s); ok {
			out[s] = snap
		}
	}
	return out
}

// Status reports freshness for the given symbols. A symbol is stale when it
// has never been sampled or its current snapshot is older than staleAfter.
func (c *SnapshotCache) Status(symbols []string, now time.Time, staleAfter time.Duration) []SymbolStatus {
	out := make([]SymbolStatus, 0, len(symbols))
	for _, symbol := range symbols {
		status := SymbolStatus{Symbol: symbol, Stale: true}
		if st := c.state(symbol, false); st != nil {
			st.mu.RLock()
			if st.cur != nil {
				status.LastSampleAt = st.cur.Timestamp
				status.Stale = now.Sub(st.cur.Timestamp) > staleAfter
			}
			status.LastError = st.lastError
			status.LastErrorAt = st.lastErrorAt
			st.mu.RUnlock()
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
