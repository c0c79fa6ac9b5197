package adjust

import (
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"go.uber.org/zap"
)

// RegistryConfig configures adjustment deduplication and retirement
type RegistryConfig struct {
	DedupWindow  time.Duration `mapstructure:"dedup_window"`  // suppress same (symbol, event type) proposals
	TemporaryTTL time.Duration `mapstructure:"temporary_ttl"` // lifetime of temporary adjustments
	RetiredLimit int           `mapstructure:"retired_limit"` // retired adjustments kept per symbol
}

// DefaultRegistryConfig returns sensible defaults
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		DedupWindow:  10 * time.Minute,
		TemporaryTTL: 15 * time.Minute,
		RetiredLimit: 100,
	}
}

// symbolBook holds one symbol's adjustments. active is kept in creation order.
type symbolBook struct {
	mu      sync.Mutex
	active  []types.DynamicAdjustment
	retired []types.DynamicAdjustment
}

// Registry owns every adjustment and is the only place their state changes.
// Each symbol has its own lock so Register and Review never observe a
// half-updated list.
type Registry struct {
	logger *zap.Logger
	config RegistryConfig
	limits RevertLimits

	mu    sync.RWMutex
	books map[string]*symbolBook
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger, config RegistryConfig, limits RevertLimits) *Registry {
	def := DefaultRegistryConfig()
	if config.DedupWindow <= 0 {
		config.DedupWindow = def.DedupWindow
	}
	if config.TemporaryTTL <= 0 {
		config.TemporaryTTL = def.TemporaryTTL
	}
	if config.RetiredLimit <= 0 {
		config.RetiredLimit = def.RetiredLimit
	}

	return &Registry{
		logger: logger,
		config: config,
		limits: limits,
		books:  make(map[string]*symbolBook),
	}
}

func (r *Registry) book(symbol string, create bool) *symbolBook {
	r.mu.RLock()
	b, ok := r.books[symbol]
	r.mu.RUnlock()
	if ok || !create {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[symbol]; ok {
		return b
	}
	b = &symbolBook{}
	r.books[symbol] = b
	return b
}

// Register activates a proposed adjustment. It is rejected when an active
// adjustment for the same symbol and event type was created within the dedup
// window, when it is not in the proposed state, or when its duration class or
// a revert condition is unknown. Rejections are not errors; the reason is logged.
func (r *Registry) Register(adj types.DynamicAdjustment) (types.AdjustmentTransition, bool) {
	if adj.State != "" && adj.State != types.StateProposed {
		r.logger.Warn("Skipping adjustment: not in proposed state",
			zap.String("id", adj.ID),
			zap.String("state", string(adj.State)),
		)
		return types.AdjustmentTransition{}, false
	}
	if !KnownDuration(adj.Duration) {
		r.logger.Warn("Skipping adjustment: unknown duration class",
			zap.String("id", adj.ID),
			zap.String("duration", string(adj.Duration)),
		)
		return types.AdjustmentTransition{}, false
	}
	for _, c := range adj.RevertConditions {
		if !KnownCondition(c) {
			r.logger.Warn("Skipping adjustment: unknown revert condition",
				zap.String("id", adj.ID),
				zap.String("condition", string(c)),
			)
			return types.AdjustmentTransition{}, false
		}
	}

	b := r.book(adj.Symbol, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.active {
		if existing.EventType != adj.EventType {
			continue
		}
		gap := adj.CreatedAt.Sub(existing.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < r.config.DedupWindow {
			r.logger.Info("Skipping duplicate adjustment within dedup window",
				zap.String("symbol", adj.Symbol),
				zap.String("event_type", string(adj.EventType)),
				zap.String("existing_id", existing.ID),
				zap.Duration("gap", gap),
			)
			return types.AdjustmentTransition{}, false
		}
	}

	from := types.StateProposed
	adj = adj.Clone()
	adj.State = types.StateActive
	b.active = append(b.active, adj)
	// keep creation order even when proposals arrive out of order
	sort.SliceStable(b.active, func(i, j int) bool {
		return b.active[i].CreatedAt.Before(b.active[j].CreatedAt)
	})

	r.logger.Info("Adjustment activated",
		zap.String("id", adj.ID),
		zap.String("symbol", adj.Symbol),
		zap.String("event_type", string(adj.EventType)),
		zap.String("duration", string(adj.Duration)),
	)

	return types.AdjustmentTransition{
		Adjustment: adj.Clone(),
		From:       from,
		To:         types.StateActive,
		Reason:     adj.Reason,
		At:         adj.CreatedAt,
	}, true
}

// Review retires active adjustments: temporary ones older than the TTL expire,
// until-reversal ones revert once every revert condition holds for the
// symbol's current snapshot. Permanent adjustments are never retired here.
// Symbols without a snapshot only have their temporary adjustments reviewed.
func (r *Registry) Review(now time.Time, snapshots map[string]types.MarketConditionSnapshot) []types.AdjustmentTransition {
	var out []types.AdjustmentTransition

	for _, symbol := range r.Symbols() {
		b := r.book(symbol, false)
		if b == nil {
			continue
		}
		snap, hasSnap := snapshots[symbol]

		b.mu.Lock()
		kept := b.active[:0]
		for _, adj := range b.active {
			to, reason := r.decide(now, adj, snap, hasSnap)
			if to == types.StateActive {
				kept = append(kept, adj)
				continue
			}
			tr, ok := r.retire(b, adj, to, reason, now)
			if !ok {
				kept = append(kept, adj)
				continue
			}
			out = append(out, tr)
		}
		// clear the tail so retired values are not pinned by the backing array
		for i := len(kept); i < len(b.active); i++ {
			b.active[i] = types.DynamicAdjustment{}
		}
		b.active = kept
		b.mu.Unlock()
	}

	return out
}

func (r *Registry) decide(now time.Time, adj types.DynamicAdjustment, snap types.MarketConditionSnapshot, hasSnap bool) (types.AdjustmentState, string) {
	switch adj.Duration {
	case types.DurationTemporary:
		if now.Sub(adj.CreatedAt) > r.config.TemporaryTTL {
			return types.StateExpired, "temporary adjustment exceeded ttl"
		}
	case types.DurationUntilReversal:
		if hasSnap && r.limits.AllHold(adj.RevertConditions, snap) {
			return types.StateReverted, "revert conditions satisfied"
		}
	}
	return types.StateActive, ""
}

// retire moves an adjustment to a terminal state. Must hold b.mu.
func (r *Registry) retire(b *symbolBook, adj types.DynamicAdjustment, to types.AdjustmentState, reason string, now time.Time) (types.AdjustmentTransition, bool) {
	if adj.State != types.StateActive || !to.IsTerminal() {
		r.logger.Error("Refusing non-monotonic transition",
			zap.String("id", adj.ID),
			zap.String("from", string(adj.State)),
			zap.String("to", string(to)),
		)
		return types.AdjustmentTransition{}, false
	}

	from := adj.State
	adj.State = to
	adj.RetiredAt = now

	b.retired = append(b.retired, adj)
	if len(b.retired) > r.config.RetiredLimit {
		b.retired = append([]types.DynamicAdjustment(nil), b.retired[len(b.retired)-r.config.RetiredLimit:]...)
	}

	r.logger.Info("Adjustment retired",
		zap.String("id", adj.ID),
		zap.String("symbol", adj.Symbol),
		zap.String("state", string(to)),
		zap.String("reason", reason),
	)

	return types.AdjustmentTransition{
		Adjustment: adj.Clone(),
		From:       from,
		To:         to,
		Reason:     reason,
		At:         now,
	}, true
}

// ActiveFor returns copies of the symbol's active adjustments in creation order
func (r *Registry) ActiveFor(symbol string) []types.DynamicAdjustment {
	b := r.book(symbol, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.DynamicAdjustment, len(b.active))
	for i, adj := range b.active {
		out[i] = adj.Clone()
	}
	return out
}

// Retired returns copies of the symbol's retired adjustments, oldest first
func (r *Registry) Retired(symbol string) []types.DynamicAdjustment {
	b := r.book(symbol, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.DynamicAdjustment, len(b.retired))
	for i, adj := range b.retired {
		out[i] = adj.Clone()
	}
	return out
}

// Symbols returns every symbol that has ever had an adjustment, sorted
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ActiveCount returns the number of active adjustments for a symbol
func (r *Registry) ActiveCount(symbol string) int {
	b := r.book(symbol, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}
