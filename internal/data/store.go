package data

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BarProvider serves the most recent OHLCV bars of a symbol, oldest first
type BarProvider interface {
	Bars(ctx context.Context, symbol string, limit int) ([]types.OHLCV, error)
}

// StoreConfig configures the bar store
type StoreConfig struct {
	DataDir    string        `mapstructure:"data_dir"`
	Interval   time.Duration `mapstructure:"interval"`    // bar width
	SampleBars int           `mapstructure:"sample_bars"` // bars generated for symbols without a file, 0 disables
	Seed       int64         `mapstructure:"seed"`
}

// DefaultStoreConfig returns sensible defaults
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DataDir:    "./data",
		Interval:   time.Hour,
		SampleBars: 500,
		Seed:       42,
	}
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Generated bool      `json:"generated"`
}

// Store keeps OHLCV bars per symbol, loaded from JSON files in DataDir.
// Symbols without a file get a generated random walk that keeps extending
// to the current time, so sampling always sees fresh bars.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	config   StoreConfig
	bars     map[string][]types.OHLCV
	metadata map[string]*SymbolMetadata
	rng      *rand.Rand
	now      func() time.Time
}

// NewStore creates a new bar store
func NewStore(logger *zap.Logger, config StoreConfig) (*Store, error) {
	def := DefaultStoreConfig()
	if config.DataDir == "" {
		config.DataDir = def.DataDir
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		logger:   logger,
		config:   config,
		bars:     make(map[string][]types.OHLCV),
		metadata: make(map[string]*SymbolMetadata),
		rng:      rand.New(rand.NewSource(config.Seed)),
		now:      time.Now,
	}

	if err := s.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return s, nil
}

// Bars returns up to limit of the symbol's latest bars. limit <= 0 returns all.
func (s *Store) Bars(ctx context.Context, symbol string, limit int) ([]types.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bars, err := s.load(symbol)
	if err != nil {
		return nil, err
	}
	if s.metadata[symbol] != nil && s.metadata[symbol].Generated {
		bars = s.extend(symbol, bars)
	}

	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]types.OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

// Save replaces the symbol's bars and writes them to disk
func (s *Store) Save(symbol string, bars []types.OHLCV) error {
	sorted := make([]types.OHLCV, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(s.path(symbol), data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.bars[symbol] = sorted
	s.updateMetadata(symbol, sorted, false)
	return s.saveMetadata()
}

// Append adds a bar that must be newer than the symbol's last bar. The bar is
// kept in memory only.
func (s *Store) Append(symbol string, bar types.OHLCV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bars, err := s.load(symbol)
	if err != nil {
		return err
	}
	if n := len(bars); n > 0 && !bar.Timestamp.After(bars[n-1].Timestamp) {
		return fmt.Errorf("%w: bar at %s for %s", ErrStaleSnapshot, bar.Timestamp.Format(time.RFC3339), symbol)
	}
	bars = append(bars, bar)
	s.bars[symbol] = bars
	generated := s.metadata[symbol] != nil && s.metadata[symbol].Generated
	s.updateMetadata(symbol, bars, generated)
	return nil
}

// Symbols returns every symbol with bars loaded or on disk
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Metadata returns the metadata of a symbol
func (s *Store) Metadata(symbol string) (SymbolMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[symbol]
	if !ok {
		return SymbolMetadata{}, false
	}
	return *meta, true
}

// load returns the cached bars of a symbol, reading or generating them on
// first use. Callers hold s.mu.
func (s *Store) load(symbol string) ([]types.OHLCV, error) {
	if bars, ok := s.bars[symbol]; ok {
		return bars, nil
	}

	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read data file: %w", err)
		}
		if s.config.SampleBars <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		s.logger.Info("Generating sample data", zap.String("symbol", symbol), zap.Int("bars", s.config.SampleBars))
		bars := s.generate(symbol)
		s.bars[symbol] = bars
		s.updateMetadata(symbol, bars, true)
		return bars, nil
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data for %s: %w", symbol, err)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	s.bars[symbol] = bars
	s.updateMetadata(symbol, bars, false)
	return bars, nil
}

func (s *Store) path(symbol string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(symbol)
	return filepath.Join(s.config.DataDir, name+".json")
}

func (s *Store) generate(symbol string) []types.OHLCV {
	price := startingPrice(symbol)
	end := s.now().Truncate(s.config.Interval)
	start := end.Add(-time.Duration(s.config.SampleBars-1) * s.config.Interval)

	bars := make([]types.OHLCV, 0, s.config.SampleBars)
	for ts := start; !ts.After(end); ts = ts.Add(s.config.Interval) {
		bar := s.nextBar(ts, price)
		price = bar.Close.InexactFloat64()
		bars = append(bars, bar)
	}
	return bars
}

// extend continues a generated walk up to the current time
func (s *Store) extend(symbol string, bars []types.OHLCV) []types.OHLCV {
	if len(bars) == 0 {
		return bars
	}
	end := s.now().Truncate(s.config.Interval)
	last := bars[len(bars)-1]
	for ts := last.Timestamp.Add(s.config.Interval); !ts.After(end); ts = ts.Add(s.config.Interval) {
		bar := s.nextBar(ts, last.Close.InexactFloat64())
		bars = append(bars, bar)
		last = bar
	}
	if limit := s.config.SampleBars; limit > 0 && len(bars) > 2*limit {
		bars = append([]types.OHLCV(nil), bars[len(bars)-limit:]...)
	}
	s.bars[symbol] = bars
	s.updateMetadata(symbol, bars, true)
	return bars
}

func (s *Store) nextBar(ts time.Time, price float64) types.OHLCV {
	change := (s.rng.Float64() - 0.5) * 0.02 * price // +/- 1%
	open := decimal.NewFromFloat(price).Round(8)
	close := decimal.NewFromFloat(price + change).Round(8)

	high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1 + s.rng.Float64()*0.005)).Round(8)
	low := decimal.Min(open, close).Mul(decimal.NewFromFloat(1 - s.rng.Float64()*0.005)).Round(8)
	volume := decimal.NewFromFloat(500000 + s.rng.Float64()*1000000).Round(2)

	return types.OHLCV{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

func startingPrice(symbol string) float64 {
	switch {
	case strings.HasPrefix(symbol, "BTC"):
		return 40000
	case strings.HasPrefix(symbol, "ETH"):
		return 2000
	case strings.HasPrefix(symbol, "SOL"):
		return 100
	default:
		return 100
	}
}

func (s *Store) updateMetadata(symbol string, bars []types.OHLCV, generated bool) {
	if len(bars) == 0 {
		delete(s.metadata, symbol)
		return
	}
	s.metadata[symbol] = &SymbolMetadata{
		Symbol:    symbol,
		StartDate: bars[0].Timestamp,
		EndDate:   bars[len(bars)-1].Timestamp,
		BarCount:  len(bars),
		Generated: generated,
	}
}

func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(s.config.DataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	for symbol, meta := range metadata {
		if meta != nil && !meta.Generated {
			s.metadata[symbol] = meta
		}
	}
	return nil
}

// saveMetadata writes metadata for file-backed symbols. Callers hold s.mu.
func (s *Store) saveMetadata() error {
	persisted := make(map[string]*SymbolMetadata)
	for symbol, meta := range s.metadata {
		if !meta.Generated {
			persisted[symbol] = meta
		}
	}
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.config.DataDir, "metadata.json"), data, 0644)
}
