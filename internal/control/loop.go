// Package control runs the adaptive adjustment loop: it samples every symbol,
// turns detected events into adjustments, retires them once conditions allow,
// and pushes the resulting effective parameters to the strategy store.
package control

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/adjust"
	"github.com/atlas-desktop/adaptive-backend/internal/data"
	"github.com/atlas-desktop/adaptive-backend/internal/events"
	"github.com/atlas-desktop/adaptive-backend/internal/metrics"
	"github.com/atlas-desktop/adaptive-backend/internal/params"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start on a running loop
var ErrAlreadyRunning = errors.New("control loop already running")

// LoopConfig configures the loop cadence
type LoopConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	ReviewInterval time.Duration `mapstructure:"review_interval"`
	StaleAfter     time.Duration `mapstructure:"stale_after"` // age after which a symbol's data is reported stale
}

// DefaultLoopConfig returns sensible defaults
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		SampleInterval: 10 * time.Second,
		ReviewInterval: 30 * time.Second,
		StaleAfter:     30 * time.Second,
	}
}

// Dependencies are the components the loop drives. Metrics and Clock are
// optional.
type Dependencies struct {
	Snapshotter *data.Snapshotter
	Detector    *events.Detector
	History     *events.History
	Registry    *adjust.Registry
	Feed        *events.Feed
	Params      params.Store
	Metrics     *metrics.Metrics
	Clock       func() time.Time
}

// Loop is the control loop. It holds no global state; build one per process.
type Loop struct {
	logger      *zap.Logger
	config      LoopConfig
	bindings    []types.SymbolBinding
	symbols     []string
	strategies  map[string][]string // strategy ID -> bound symbols
	snapshotter *data.Snapshotter
	detector    *events.Detector
	history     *events.History
	synthesizer *adjust.Synthesizer
	registry    *adjust.Registry
	feed        *events.Feed
	params      params.Store
	metrics     *metrics.Metrics
	now         func() time.Time

	// pushMu keeps compute-and-apply of effective parameters atomic
	pushMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a loop over the bound symbols
func New(logger *zap.Logger, config LoopConfig, bindings []types.SymbolBinding, deps Dependencies) (*Loop, error) {
	if len(bindings) == 0 {
		return nil, fmt.Errorf("control loop needs at least one symbol")
	}
	if deps.Snapshotter == nil || deps.Detector == nil || deps.History == nil ||
		deps.Registry == nil || deps.Feed == nil || deps.Params == nil {
		return nil, fmt.Errorf("control loop is missing a required dependency")
	}

	def := DefaultLoopConfig()
	if config.SampleInterval <= 0 {
		config.SampleInterval = def.SampleInterval
	}
	if config.ReviewInterval <= 0 {
		config.ReviewInterval = def.ReviewInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = def.StaleAfter
	}

	seen := make(map[string]bool, len(bindings))
	bySymbol := make(map[string]string, len(bindings))
	strategies := make(map[string][]string)
	normalized := make([]types.SymbolBinding, 0, len(bindings))
	for _, b := range bindings {
		if b.Symbol == "" {
			return nil, fmt.Errorf("symbol binding with empty symbol")
		}
		if seen[b.Symbol] {
			return nil, fmt.Errorf("symbol %s bound twice", b.Symbol)
		}
		seen[b.Symbol] = true
		if b.StrategyID == "" {
			b.StrategyID = b.Symbol
		}
		bySymbol[b.Symbol] = b.StrategyID
		strategies[b.StrategyID] = append(strategies[b.StrategyID], b.Symbol)
		normalized = append(normalized, b)
	}

	symbols := make([]string, 0, len(normalized))
	for _, b := range normalized {
		symbols = append(symbols, b.Symbol)
	}
	sort.Strings(symbols)

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	l := &Loop{
		logger:      logger,
		config:      config,
		bindings:    normalized,
		symbols:     symbols,
		strategies:  strategies,
		snapshotter: deps.Snapshotter,
		detector:    deps.Detector,
		history:     deps.History,
		synthesizer: adjust.NewSynthesizer(bySymbol),
		registry:    deps.Registry,
		feed:        deps.Feed,
		params:      deps.Params,
		metrics:     deps.Metrics,
		now:         now,
	}
	if deps.Metrics != nil {
		deps.Metrics.RegisterFeedDrops(func() float64 {
			return float64(l.feed.Stats().Dropped)
		})
	}
	return l, nil
}

// Start pushes baseline parameters, takes a first sample and launches the
// sampler and reviewer loops
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.stopCh = make(chan struct{})
	stopCh := l.stopCh
	l.mu.Unlock()

	l.logger.Info("Starting control loop",
		zap.Strings("symbols", l.symbols),
		zap.Duration("sampleInterval", l.config.SampleInterval),
		zap.Duration("reviewInterval", l.config.ReviewInterval),
	)

	for id := range l.strategies {
		l.push(ctx, id)
	}
	l.SampleOnce(ctx)

	l.wg.Add(2)
	go l.tick(ctx, stopCh, l.config.SampleInterval, l.SampleOnce)
	go l.tick(ctx, stopCh, l.config.ReviewInterval, l.ReviewOnce)
	return nil
}

// Stop halts both loops and waits for an in-flight cycle to finish
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("Control loop stopped")
}

// Run starts the loop and blocks until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	l.Stop()
	return nil
}

func (l *Loop) tick(ctx context.Context, stopCh <-chan struct{}, every time.Duration, fn func(context.Context)) {
	defer l.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// SampleOnce samples every symbol concurrently and waits for all of them.
// A failing or panicking symbol never affects the others.
func (l *Loop) SampleOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range l.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("Sample panicked",
						zap.String("symbol", symbol),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
				}
			}()
			l.sampleSymbol(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
}

func (l *Loop) sampleSymbol(ctx context.Context, symbol string) {
	start := time.Now()
	pair, err := l.snapshotter.Sample(ctx, symbol)
	l.metrics.ObserveSample(symbol, time.Since(start), err)
	if err != nil {
		l.logger.Warn("Sample failed; skipping cycle",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return
	}
	if !pair.HasPrevious {
		return
	}

	changed := false
	for _, event := range l.detector.Detect(pair.Previous, pair.Current) {
		l.history.Add(event)
		l.metrics.ObserveEvent(string(event.Type), string(event.Severity))
		l.feed.PublishEvent(event)
		l.logger.Info("Market event detected",
			zap.String("symbol", symbol),
			zap.String("type", string(event.Type)),
			zap.String("severity", string(event.Severity)),
			zap.String("description", event.Description),
		)

		adj, ok := l.synthesizer.Synthesize(event, pair.Current.Regime)
		if !ok {
			l.metrics.ObserveAdjustment(string(event.Type), metrics.OutcomeUnmapped)
			continue
		}
		tr, ok := l.registry.Register(adj)
		if !ok {
			l.metrics.ObserveAdjustment(string(event.Type), metrics.OutcomeDeduplicated)
			continue
		}
		l.metrics.ObserveAdjustment(string(event.Type), metrics.OutcomeRegistered)
		l.metrics.ObserveTransition(string(tr.To))
		l.feed.PublishTransition(tr)
		changed = true
	}

	if changed {
		l.metrics.SetActive(symbol, l.registry.ActiveCount(symbol))
		l.push(ctx, l.synthesizer.StrategyFor(symbol))
	}
}

// ReviewOnce retires adjustments whose lifetime or revert conditions are met,
// pushes parameters for every strategy that changed and reports stale symbols
func (l *Loop) ReviewOnce(ctx context.Context) {
	now := l.now()
	transitions := l.registry.Review(now, l.snapshotter.Cache().CurrentAll())

	changed := make(map[string]bool)
	for _, tr := range transitions {
		l.metrics.ObserveTransition(string(tr.To))
		l.feed.PublishTransition(tr)
		changed[tr.Adjustment.Symbol] = true
	}

	pushed := make(map[string]bool)
	for symbol := range changed {
		l.metrics.SetActive(symbol, l.registry.ActiveCount(symbol))
		id := l.synthesizer.StrategyFor(symbol)
		if pushed[id] {
			continue
		}
		pushed[id] = true
		l.push(ctx, id)
	}

	for _, st := range l.Staleness(now) {
		if !st.Stale {
			continue
		}
		fields := []zap.Field{zap.String("symbol", st.Symbol)}
		if !st.LastSampleAt.IsZero() {
			fields = append(fields, zap.Time("since", st.LastSampleAt))
		}
		if st.LastError != "" {
			fields = append(fields, zap.String("lastError", st.LastError))
		}
		l.logger.Warn("No fresh data for symbol", fields...)
	}
}

// push recomputes and applies a strategy's effective parameters. Failures are
// logged; the next change retries.
func (l *Loop) push(ctx context.Context, strategyID string) {
	l.pushMu.Lock()
	defer l.pushMu.Unlock()

	set, err := l.EffectiveParameters(ctx, strategyID)
	if err != nil {
		l.logger.Error("Failed to resolve effective parameters",
			zap.String("strategy", strategyID),
			zap.Error(err),
		)
		return
	}
	if err := l.params.ApplyEffectiveParameters(ctx, strategyID, set); err != nil {
		l.logger.Error("Failed to apply effective parameters",
			zap.String("strategy", strategyID),
			zap.Error(err),
		)
	}
}

// EffectiveParameters resolves the strategy's baseline with the active
// adjustments of every symbol bound to it
func (l *Loop) EffectiveParameters(ctx context.Context, strategyID string) (types.ParameterSet, error) {
	baseline, err := l.params.GetBaseline(ctx, strategyID)
	if err != nil {
		return types.ParameterSet{}, fmt.Errorf("baseline for %s: %w", strategyID, err)
	}

	var active []types.DynamicAdjustment
	for _, symbol := range l.strategies[strategyID] {
		active = append(active, adjust.ForStrategy(strategyID, l.registry.ActiveFor(symbol))...)
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return adjust.Resolve(baseline, active), nil
}

// Staleness reports data freshness for every bound symbol
func (l *Loop) Staleness(now time.Time) []data.SymbolStatus {
	return l.snapshotter.Cache().Status(l.symbols, now, l.config.StaleAfter)
}

// RecentEvents returns up to n recent events, oldest first
func (l *Loop) RecentEvents(n int) []types.MarketEvent {
	return l.history.Recent(n)
}

// ActiveAdjustments returns the symbol's active adjustments in creation order
func (l *Loop) ActiveAdjustments(symbol string) []types.DynamicAdjustment {
	return l.registry.ActiveFor(symbol)
}

// RetiredAdjustments returns the symbol's bounded retirement log
func (l *Loop) RetiredAdjustments(symbol string) []types.DynamicAdjustment {
	return l.registry.Retired(symbol)
}

// Snapshot returns the symbol's current snapshot
func (l *Loop) Snapshot(symbol string) (types.MarketConditionSnapshot, bool) {
	return l.snapshotter.Cache().Current(symbol)
}

// Bindings returns the symbol to strategy bindings
func (l *Loop) Bindings() []types.SymbolBinding {
	out := make([]types.SymbolBinding, len(l.bindings))
	copy(out, l.bindings)
	return out
}

// Symbols returns the bound symbols, sorted
func (l *Loop) Symbols() []string {
	out := make([]string, len(l.symbols))
	copy(out, l.symbols)
	return out
}

// HasStrategy reports whether a strategy is bound to any symbol
func (l *Loop) HasStrategy(strategyID string) bool {
	_, ok := l.strategies[strategyID]
	return ok
}

// IsRunning reports whether the tickers are active
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
