package data

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"go.uber.org/zap"
)

// SnapshotterConfig configures sampling
type SnapshotterConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DefaultSnapshotterConfig returns sensible defaults
func DefaultSnapshotterConfig() SnapshotterConfig {
	return SnapshotterConfig{FetchTimeout: 8 * time.Second}
}

// Snapshotter pulls snapshots from a Source into a SnapshotCache
type Snapshotter struct {
	logger *zap.Logger
	source Source
	cache  *SnapshotCache
	config SnapshotterConfig
	now    func() time.Time
}

// NewSnapshotter creates a snapshotter writing into cache
func NewSnapshotter(logger *zap.Logger, source Source, cache *SnapshotCache, config SnapshotterConfig) *Snapshotter {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultSnapshotterConfig().FetchTimeout
	}
	return &Snapshotter{
		logger: logger,
		source: source,
		cache:  cache,
		config: config,
		now:    time.Now,
	}
}

// Cache returns the snapshot cache the snapshotter writes to
func (s *Snapshotter) Cache() *SnapshotCache {
	return s.cache
}

type fetchResult struct {
	snap types.MarketConditionSnapshot
	err  error
}

// Sample fetches, validates and installs a fresh snapshot for symbol. On any
// failure the symbol's snapshot pair is left untouched and the error returned.
// The fetch is bounded by FetchTimeout even if the source ignores its context;
// an abandoned fetch finishes in the background and its result is discarded.
func (s *Snapshotter) Sample(ctx context.Context, symbol string) (SnapshotPair, error) {
	fctx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("source panic: %v", r)}
			}
		}()
		snap, err := s.source.GetSnapshot(fctx, symbol)
		done <- fetchResult{snap: snap, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-fctx.Done():
		res.err = fctx.Err()
	}

	if res.err != nil {
		err := fmt.Errorf("fetch snapshot for %s: %w", symbol, res.err)
		s.cache.RecordFailure(symbol, err, s.now())
		return SnapshotPair{}, err
	}

	if err := ValidateSnapshot(symbol, res.snap); err != nil {
		s.cache.RecordFailure(symbol, err, s.now())
		return SnapshotPair{}, err
	}

	pair, err := s.cache.Advance(res.snap)
	if err != nil {
		s.cache.RecordFailure(symbol, err, s.now())
		return SnapshotPair{}, err
	}

	s.logger.Debug("Snapshot sampled",
		zap.String("symbol", symbol),
		zap.String("price", res.snap.Price.String()),
		zap.Float64("volatility", pair.Current.Volatility),
		zap.String("regime", string(res.snap.Regime)),
	)
	return pair, nil
}
