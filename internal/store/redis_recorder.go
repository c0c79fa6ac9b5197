// Package store records feed traffic to Redis for audit.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/events"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RecorderConfig configures the Redis audit recorder. An empty Addr disables it.
type RecorderConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	MaxEntries   int64         `mapstructure:"max_entries"` // list length kept per key
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Buffer       int           `mapstructure:"buffer"` // feed subscription buffer
}

// DefaultRecorderConfig returns sensible defaults
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		KeyPrefix:    "adaptive",
		MaxEntries:   500,
		WriteTimeout: 2 * time.Second,
		Buffer:       512,
	}
}

// Enabled reports whether a Redis address is configured
func (c RecorderConfig) Enabled() bool {
	return c.Addr != ""
}

// ListWriter is the subset of the Redis client the recorder uses
type ListWriter interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// NewClient creates a Redis client from the recorder config
func NewClient(config RecorderConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		WriteTimeout: config.WriteTimeout,
	})
}

// RecorderStats counts recorder writes
type RecorderStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// RedisRecorder subscribes to the feed and appends every message as JSON to
// a per-symbol Redis list. Writes are fire-and-forget: failures are logged and
// counted, never returned to the loop.
type RedisRecorder struct {
	logger *zap.Logger
	client ListWriter
	feed   *events.Feed
	config RecorderConfig

	written atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	sub     *events.Subscription
	wg      sync.WaitGroup
	running bool
}

// NewRedisRecorder creates a recorder writing feed messages through client
func NewRedisRecorder(logger *zap.Logger, client ListWriter, feed *events.Feed, config RecorderConfig) *RedisRecorder {
	def := DefaultRecorderConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = def.MaxEntries
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.Buffer <= 0 {
		config.Buffer = def.Buffer
	}
	return &RedisRecorder{
		logger: logger,
		client: client,
		feed:   feed,
		config: config,
	}
}

// Start subscribes to the feed and records until Stop or ctx is done
func (r *RedisRecorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.sub = r.feed.Subscribe(r.config.Buffer)

	r.wg.Add(1)
	go r.run(ctx, r.sub)

	r.logger.Info("Redis recorder started",
		zap.String("prefix", r.config.KeyPrefix),
		zap.Int64("maxEntries", r.config.MaxEntries),
	)
}

// Stop unsubscribes and waits for in-flight writes
func (r *RedisRecorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	sub := r.sub
	r.mu.Unlock()

	r.feed.Unsubscribe(sub)
	r.wg.Wait()
}

// Stats returns write counters
func (r *RedisRecorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Failed:  r.failed.Load(),
	}
}

func (r *RedisRecorder) run(ctx context.Context, sub *events.Subscription) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			r.record(ctx, msg)
		}
	}
}

// Key returns the list key a message is recorded under
func (r *RedisRecorder) Key(msg events.Message) string {
	kind := "events"
	if msg.Topic == events.TopicAdjustment {
		kind = "adjustments"
	}
	return fmt.Sprintf("%s:%s:%s", r.config.KeyPrefix, kind, msg.Symbol)
}

func (r *RedisRecorder) record(ctx context.Context, msg events.Message) {
	var payload interface{}
	switch {
	case msg.Event != nil:
		payload = msg.Event
	case msg.Transition != nil:
		payload = msg.Transition
	default:
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("Failed to encode feed message", zap.Error(err))
		return
	}

	wctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()

	key := r.Key(msg)
	if err := r.client.LPush(wctx, key, body).Err(); err != nil {
		r.failed.Add(1)
		r.logger.Warn("Redis LPUSH failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.client.LTrim(wctx, key, 0, r.config.MaxEntries-1).Err(); err != nil {
		r.logger.Warn("Redis LTRIM failed", zap.String("key", key), zap.Error(err))
	}
	r.written.Add(1)
}
