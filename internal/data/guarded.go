package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GuardConfig configures GuardedSource
type GuardConfig struct {
	BreakerFailures uint32        `mapstructure:"breaker_failures"` // consecutive failures that open a symbol's breaker
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`  // time an open breaker waits before half-open
	RPS             float64       `mapstructure:"rps"`              // source-wide request rate
	Burst           int           `mapstructure:"burst"`
}

// DefaultGuardConfig returns sensible defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		BreakerFailures: 5,
		BreakerTimeout:  60 * time.Second,
		RPS:             5,
		Burst:           5,
	}
}

// GuardedSource wraps a Source with a per-symbol circuit breaker and a shared
// rate limiter. A tripped breaker or an exhausted limiter is reported as an
// ordinary source error so the caller skips the cycle.
type GuardedSource struct {
	inner   Source
	config  GuardConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewGuardedSource creates a guarded wrapper around inner
func NewGuardedSource(logger *zap.Logger, inner Source, config GuardConfig) *GuardedSource {
	def := DefaultGuardConfig()
	if config.BreakerFailures == 0 {
		config.BreakerFailures = def.BreakerFailures
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = def.BreakerTimeout
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}

	limit := rate.Inf
	if config.RPS > 0 {
		limit = rate.Limit(config.RPS)
	}

	return &GuardedSource{
		inner:    inner,
		config:   config,
		limiter:  rate.NewLimiter(limit, config.Burst),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *GuardedSource) breaker(symbol string) *gobreaker.CircuitBreaker {
	g.mu.RLock()
	cb, ok := g.breakers[symbol]
	g.mu.RUnlock()
	if ok {
		return cb
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[symbol]; ok {
		return cb
	}

	failures := g.config.BreakerFailures
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "source:" + symbol,
		MaxRequests: 1,
		Timeout:     g.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("Source circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	g.breakers[symbol] = cb
	return cb
}

// GetSnapshot fetches through the symbol's breaker after waiting on the limiter
func (g *GuardedSource) GetSnapshot(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return types.MarketConditionSnapshot{}, fmt.Errorf("rate limit wait for %s: %w", symbol, err)
	}

	result, err := g.breaker(symbol).Execute(func() (interface{}, error) {
		return g.inner.GetSnapshot(ctx, symbol)
	})
	if err != nil {
		return types.MarketConditionSnapshot{}, err
	}
	return result.(types.MarketConditionSnapshot), nil
}

// BreakerState returns the breaker state for a symbol ("closed" if never used)
func (g *GuardedSource) BreakerState(symbol string) string {
	g.mu.RLock()
	cb, ok := g.breakers[symbol]
	g.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}
