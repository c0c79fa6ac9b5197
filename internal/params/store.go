// Package params holds strategy baselines and receives the effective
// parameter sets the control loop derives from them.
package params

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"go.uber.org/zap"
)

// ErrNoBaseline is returned when a strategy has no baseline
var ErrNoBaseline = errors.New("no baseline parameters")

// Store reads strategy baselines and accepts effective parameter sets
type Store interface {
	GetBaseline(ctx context.Context, strategyID string) (types.ParameterSet, error)
	ApplyEffectiveParameters(ctx context.Context, strategyID string, set types.ParameterSet) error
}

// Applied is an effective set with the time it was pushed
type Applied struct {
	Set       types.ParameterSet `json:"set"`
	AppliedAt time.Time          `json:"appliedAt"`
	Version   int                `json:"version"`
}

// MemoryStore keeps baselines and the last effective set per strategy
type MemoryStore struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	baselines map[string]types.ParameterSet
	effective map[string]Applied
	now       func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:    logger,
		baselines: make(map[string]types.ParameterSet),
		effective: make(map[string]Applied),
		now:       time.Now,
	}
}

// SetBaseline installs the baseline of a strategy
func (m *MemoryStore) SetBaseline(strategyID string, set types.ParameterSet) {
	set = set.Clone()
	set.StrategyID = strategyID

	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[strategyID] = set
}

// GetBaseline returns a copy of the strategy's baseline
func (m *MemoryStore) GetBaseline(ctx context.Context, strategyID string) (types.ParameterSet, error) {
	if err := ctx.Err(); err != nil {
		return types.ParameterSet{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.baselines[strategyID]
	if !ok {
		return types.ParameterSet{}, fmt.Errorf("%w: %s", ErrNoBaseline, strategyID)
	}
	return set.Clone(), nil
}

// ApplyEffectiveParameters records set as the strategy's effective parameters.
// Pushing a set equal to the current one is a no-op.
func (m *MemoryStore) ApplyEffectiveParameters(ctx context.Context, strategyID string, set types.ParameterSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.effective[strategyID]
	if ok && prev.Set.Equal(set) {
		return nil
	}

	m.effective[strategyID] = Applied{
		Set:       set.Clone(),
		AppliedAt: m.now(),
		Version:   prev.Version + 1,
	}
	m.logger.Info("Effective parameters applied",
		zap.String("strategy", strategyID),
		zap.Int("version", prev.Version+1),
		zap.Int("values", len(set.Values)),
		zap.Int("flags", len(set.Flags)),
	)
	return nil
}

// Effective returns the last effective set pushed for a strategy
func (m *MemoryStore) Effective(strategyID string) (Applied, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.effective[strategyID]
	if !ok {
		return Applied{}, false
	}
	a.Set = a.Set.Clone()
	return a, true
}

// Strategies returns the IDs of every strategy with a baseline
func (m *MemoryStore) Strategies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.baselines))
	for id := range m.baselines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultBaseline returns a conservative baseline for a strategy
func DefaultBaseline(strategyID string) types.ParameterSet {
	set := types.NewParameterSet(strategyID)
	set.Values[types.ParamStopLoss] = 2.0
	set.Values[types.ParamTakeProfit] = 4.0
	set.Values[types.ParamPositionSize] = 2.0
	set.Values[types.ParamVolatilityFilter] = 30
	set.Values[types.ParamVolumeThreshold] = 1000000
	set.Values[types.ParamMomentumThreshold] = 0.6
	set.Values[types.ParamTrendFilterThreshold] = 0.5
	set.Values[types.ParamMACDFast] = 12
	set.Values[types.ParamMACDSlow] = 26
	set.Values[types.ParamMACDSignal] = 9
	set.Values[types.ParamRSIOverbought] = 70
	set.Values[types.ParamRSIOversold] = 30
	set.Flags[types.ParamTrendFilterEnabled] = true
	set.Flags[types.ParamSessionAsia] = true
	set.Flags[types.ParamSessionEurope] = true
	set.Flags[types.ParamSessionUS] = true
	return set
}
