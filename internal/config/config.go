// Package config loads the service configuration from defaults, an optional
// YAML file and ADAPTIVE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/adjust"
	"github.com/atlas-desktop/adaptive-backend/internal/control"
	"github.com/atlas-desktop/adaptive-backend/internal/data"
	"github.com/atlas-desktop/adaptive-backend/internal/events"
	"github.com/atlas-desktop/adaptive-backend/internal/params"
	"github.com/atlas-desktop/adaptive-backend/internal/regime"
	"github.com/atlas-desktop/adaptive-backend/internal/store"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ADAPTIVE"

// LoopConfig groups loop cadence and the per-fetch timeout
type LoopConfig struct {
	control.LoopConfig     `mapstructure:",squash"`
	data.SnapshotterConfig `mapstructure:",squash"`
}

// SourceConfig groups the bar store and the source guard
type SourceConfig struct {
	data.StoreConfig `mapstructure:",squash"`
	data.GuardConfig `mapstructure:",squash"`
}

// HistoryConfig sizes the recent event log
type HistoryConfig struct {
	Size int `mapstructure:"size"`
}

// BaselineConfig overrides the default baseline for every strategy
type BaselineConfig struct {
	Values map[string]float64 `mapstructure:"values"`
	Flags  map[string]bool    `mapstructure:"flags"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full service configuration
type Config struct {
	Server     types.ServerConfig    `mapstructure:"server"`
	Loop       LoopConfig            `mapstructure:"loop"`
	Detector   events.Thresholds     `mapstructure:"detector"`
	Registry   adjust.RegistryConfig `mapstructure:"registry"`
	Revert     adjust.RevertLimits   `mapstructure:"revert"`
	History    HistoryConfig         `mapstructure:"history"`
	Feed       events.FeedConfig     `mapstructure:"feed"`
	Source     SourceConfig          `mapstructure:"source"`
	Indicators data.IndicatorConfig  `mapstructure:"indicators"`
	Regime     regime.RegimeConfig   `mapstructure:"regime"`
	Redis      store.RecorderConfig  `mapstructure:"redis"`
	Symbols    []types.SymbolBinding `mapstructure:"symbols"`
	Baseline   BaselineConfig        `mapstructure:"baseline"`
	Log        LogConfig             `mapstructure:"log"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		symbolListHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_connections", 1000)
	v.SetDefault("server.enable_metrics", true)

	loop := control.DefaultLoopConfig()
	v.SetDefault("loop.sample_interval", loop.SampleInterval)
	v.SetDefault("loop.review_interval", loop.ReviewInterval)
	v.SetDefault("loop.stale_after", loop.StaleAfter)
	v.SetDefault("loop.fetch_timeout", data.DefaultSnapshotterConfig().FetchTimeout)

	th := events.DefaultThresholds()
	v.SetDefault("detector.volatility_spike", th.VolatilitySpike)
	v.SetDefault("detector.volatility_high", th.VolatilityHigh)
	v.SetDefault("detector.volatility_critical", th.VolatilityCritical)
	v.SetDefault("detector.volatility_widen", th.VolatilityWiden)
	v.SetDefault("detector.volume_surge", th.VolumeSurge)
	v.SetDefault("detector.volume_high", th.VolumeHigh)
	v.SetDefault("detector.volume_critical", th.VolumeCritical)
	v.SetDefault("detector.trend_strength", th.TrendStrength)
	v.SetDefault("detector.trend_strength_high", th.TrendStrengthHigh)
	v.SetDefault("detector.breakout_high_move", th.BreakoutHighMove)
	v.SetDefault("detector.rsi_overbought", th.RSIOverbought)
	v.SetDefault("detector.rsi_oversold", th.RSIOversold)

	reg := adjust.DefaultRegistryConfig()
	v.SetDefault("registry.dedup_window", reg.DedupWindow)
	v.SetDefault("registry.temporary_ttl", reg.TemporaryTTL)
	v.SetDefault("registry.retired_limit", reg.RetiredLimit)

	rev := adjust.DefaultRevertLimits()
	v.SetDefault("revert.max_volatility", rev.MaxVolatility)
	v.SetDefault("revert.min_trend_strength", rev.MinTrendStrength)
	v.SetDefault("revert.max_volume_change", rev.MaxVolumeChange)

	v.SetDefault("history.size", events.DefaultHistorySize)
	v.SetDefault("feed.buffer", events.DefaultFeedConfig().BufferSize)

	st := data.DefaultStoreConfig()
	v.SetDefault("source.data_dir", st.DataDir)
	v.SetDefault("source.interval", st.Interval)
	v.SetDefault("source.sample_bars", st.SampleBars)
	v.SetDefault("source.seed", st.Seed)
	guard := data.DefaultGuardConfig()
	v.SetDefault("source.breaker_failures", guard.BreakerFailures)
	v.SetDefault("source.breaker_timeout", guard.BreakerTimeout)
	v.SetDefault("source.rps", guard.RPS)
	v.SetDefault("source.burst", guard.Burst)

	ind := data.DefaultIndicatorConfig()
	v.SetDefault("indicators.lookback", ind.Lookback)
	v.SetDefault("indicators.bars_per_day", ind.BarsPerDay)
	v.SetDefault("indicators.levels_window", ind.LevelsWindow)
	v.SetDefault("indicators.rsi_period", ind.RSIPeriod)
	v.SetDefault("indicators.macd_fast", ind.MACDFast)
	v.SetDefault("indicators.macd_slow", ind.MACDSlow)
	v.SetDefault("indicators.macd_signal", ind.MACDSignal)
	v.SetDefault("indicators.sideways_band", ind.SidewaysBand)
	v.SetDefault("indicators.divergence_lag", ind.DivergenceLag)

	rc := regime.DefaultRegimeConfig()
	v.SetDefault("regime.window_size", rc.WindowSize)
	v.SetDefault("regime.periods_per_year", rc.PeriodsPerYear)
	v.SetDefault("regime.trend_threshold", rc.TrendThreshold)
	v.SetDefault("regime.consolidation_width", rc.ConsolidationWidth)
	v.SetDefault("regime.low_volatility", rc.LowVolatility)

	rd := store.DefaultRecorderConfig()
	v.SetDefault("redis.addr", rd.Addr)
	v.SetDefault("redis.password", rd.Password)
	v.SetDefault("redis.db", rd.DB)
	v.SetDefault("redis.key_prefix", rd.KeyPrefix)
	v.SetDefault("redis.max_entries", rd.MaxEntries)
	v.SetDefault("redis.write_timeout", rd.WriteTimeout)
	v.SetDefault("redis.buffer", rd.Buffer)

	v.SetDefault("symbols", "SOL/USDT,ETH/USDT,BTC/USDT")
	v.SetDefault("log.level", "info")
}

var bindingsType = reflect.TypeOf([]types.SymbolBinding{})

// symbolListHook decodes "SOL/USDT=sol-momentum,ETH/USDT" into bindings so
// symbols can come from a single environment variable
func symbolListHook(from reflect.Type, to reflect.Type, value interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != bindingsType {
		return value, nil
	}
	var out []types.SymbolBinding
	for _, part := range strings.Split(value.(string), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, strategy, _ := strings.Cut(part, "=")
		out = append(out, types.SymbolBinding{
			Symbol:     strings.TrimSpace(symbol),
			StrategyID: strings.TrimSpace(strategy),
		})
	}
	return out, nil
}

// Validate checks that the configuration can drive the loop
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Loop.SampleInterval > 0, "loop.sample_interval must be positive")
	check(c.Loop.ReviewInterval > 0, "loop.review_interval must be positive")
	check(c.Loop.FetchTimeout > 0, "loop.fetch_timeout must be positive")
	check(c.Loop.StaleAfter > 0, "loop.stale_after must be positive")
	check(c.Registry.DedupWindow > 0, "registry.dedup_window must be positive")
	check(c.Registry.TemporaryTTL > 0, "registry.temporary_ttl must be positive")
	check(c.Registry.RetiredLimit > 0, "registry.retired_limit must be positive")
	check(c.History.Size > 0, "history.size must be positive")
	check(c.Feed.BufferSize > 0, "feed.buffer must be positive")
	check(c.Source.Interval > 0, "source.interval must be positive")

	d := c.Detector
	check(d.VolatilitySpike <= d.VolatilityHigh && d.VolatilityHigh <= d.VolatilityCritical,
		"detector volatility thresholds must be ascending")
	check(d.VolatilitySpike <= d.VolatilityWiden,
		"detector.volatility_widen must not be below volatility_spike")
	check(d.TrendStrength <= d.TrendStrengthHigh,
		"detector.trend_strength must not exceed trend_strength_high")
	check(d.VolumeSurge <= d.VolumeHigh && d.VolumeHigh <= d.VolumeCritical,
		"detector volume thresholds must be ascending")
	check(d.RSIOversold < d.RSIOverbought, "detector.rsi_oversold must be below rsi_overbought")

	ind := c.Indicators
	check(ind.BarsPerDay > 0 && ind.RSIPeriod > 0 && ind.LevelsWindow > 0 && ind.DivergenceLag > 0,
		"indicators periods must be positive")
	check(ind.MACDFast > 0 && ind.MACDFast < ind.MACDSlow && ind.MACDSignal > 0,
		"indicators.macd_fast must be positive and below macd_slow, macd_signal positive")
	check(ind.Lookback >= ind.MinBars(),
		"indicators.lookback %d is below the %d bars the indicator periods need", ind.Lookback, ind.MinBars())

	check(len(c.Symbols) > 0, "at least one symbol must be configured")
	seen := make(map[string]bool)
	for _, b := range c.Symbols {
		check(b.Symbol != "", "symbol binding with empty symbol")
		check(!seen[b.Symbol], "symbol %s configured twice", b.Symbol)
		seen[b.Symbol] = true
	}

	for name := range c.Baseline.Values {
		check(types.Param(name).IsNumeric(), "baseline.values: unknown parameter %q", name)
	}
	for name := range c.Baseline.Flags {
		check(types.Param(name).IsFlag(), "baseline.flags: unknown parameter %q", name)
	}

	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Bindings returns the configured symbol bindings with strategy IDs defaulted
// to the symbol
func (c *Config) Bindings() []types.SymbolBinding {
	out := make([]types.SymbolBinding, len(c.Symbols))
	for i, b := range c.Symbols {
		if b.StrategyID == "" {
			b.StrategyID = b.Symbol
		}
		out[i] = b
	}
	return out
}

// BaselineFor returns the default baseline overlaid with configured values
func (c *Config) BaselineFor(strategyID string) types.ParameterSet {
	set := params.DefaultBaseline(strategyID)
	for name, v := range c.Baseline.Values {
		set.Values[types.Param(name)] = v
	}
	for name, v := range c.Baseline.Flags {
		set.Flags[types.Param(name)] = v
	}
	return set
}
