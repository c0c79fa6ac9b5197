package events

import (
	"sync"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

// DefaultHistorySize is the number of recent events kept for audit
const DefaultHistorySize = 50

// History is a bounded ring buffer of recently detected events
type History struct {
	mu    sync.RWMutex
	buf   []types.MarketEvent
	next  int
	count int
}

// NewHistory creates a ring buffer holding at most size events
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]types.MarketEvent, size)}
}

// Add records an event, overwriting the oldest when full
func (h *History) Add(event types.MarketEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = event.Clone()
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Recent returns up to limit events, oldest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []types.MarketEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]types.MarketEvent, 0, limit)
	start := (h.next - limit + len(h.buf)) % len(h.buf)
	for i := 0; i < limit; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)].Clone())
	}
	return out
}

// ForSymbol returns the retained events for one symbol, oldest first
func (h *History) ForSymbol(symbol string) []types.MarketEvent {
	all := h.Recent(0)
	out := make([]types.MarketEvent, 0, len(all))
	for _, ev := range all {
		if ev.Symbol == symbol {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of retained events
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
