package events

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"go.uber.org/zap"
)

// Topic identifies a stream on the feed
type Topic string

const (
	TopicMarketEvent Topic = "market_event"
	TopicAdjustment  Topic = "adjustment"
)

// Message is a single item delivered to subscribers. Exactly one of Event or
// Transition is set, matching Topic.
type Message struct {
	Topic      Topic                       `json:"topic"`
	Symbol     string                      `json:"symbol"`
	Event      *types.MarketEvent          `json:"event,omitempty"`
	Transition *types.AdjustmentTransition `json:"transition,omitempty"`
	Published  time.Time                   `json:"published"`
}

// Subscription is a pull-based handle on the feed. Messages arrive on C until
// the subscription is cancelled or the feed is closed, after which C is closed.
type Subscription struct {
	ID     string
	C      <-chan Message
	ch     chan Message
	topics map[Topic]bool
	active atomic.Bool
}

// IsActive returns whether the subscription still receives messages
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

func (s *Subscription) wants(topic Topic) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

// FeedStats tracks delivery counters
type FeedStats struct {
	Published         int64 `json:"published"`
	Delivered         int64 `json:"delivered"`
	Dropped           int64 `json:"dropped"`
	ActiveSubscribers int64 `json:"active_subscribers"`
}

// FeedConfig configures the feed
type FeedConfig struct {
	BufferSize int `mapstructure:"buffer"` // per-subscriber channel buffer
}

// DefaultFeedConfig returns sensible defaults
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{BufferSize: 256}
}

// Feed is a publish-subscribe topic bus for market events and adjustment
// lifecycle transitions. Publishing never blocks: a subscriber whose buffer is
// full misses the message and the drop is counted.
type Feed struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	config FeedConfig
	logger *zap.Logger

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	counter   atomic.Int64
}

// NewFeed creates an empty feed
func NewFeed(logger *zap.Logger, config FeedConfig) *Feed {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultFeedConfig().BufferSize
	}
	return &Feed{
		subs:   make(map[string]*Subscription),
		config: config,
		logger: logger,
	}
}

// Subscribe registers a subscriber for the given topics (all topics when none
// are given). bufferSize <= 0 uses the configured default.
func (f *Feed) Subscribe(bufferSize int, topics ...Topic) *Subscription {
	if bufferSize <= 0 {
		bufferSize = f.config.BufferSize
	}

	ch := make(chan Message, bufferSize)
	sub := &Subscription{
		ID:     "sub_" + strconv.FormatInt(f.counter.Add(1), 10),
		C:      ch,
		ch:     ch,
		topics: make(map[Topic]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return sub
	}
	sub.active.Store(true)
	f.subs[sub.ID] = sub

	f.logger.Debug("Feed subscription added",
		zap.String("id", sub.ID),
		zap.Int("buffer", bufferSize),
	)
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (f *Feed) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub.ID]; !ok {
		return
	}
	delete(f.subs, sub.ID)
	sub.active.Store(false)
	close(sub.ch)
}

// PublishEvent sends a market event to subscribers of TopicMarketEvent
func (f *Feed) PublishEvent(event types.MarketEvent) {
	ev := event.Clone()
	f.publish(Message{
		Topic:     TopicMarketEvent,
		Symbol:    ev.Symbol,
		Event:     &ev,
		Published: time.Now(),
	})
}

// PublishTransition sends an adjustment transition to subscribers of TopicAdjustment
func (f *Feed) PublishTransition(tr types.AdjustmentTransition) {
	tr.Adjustment = tr.Adjustment.Clone()
	f.publish(Message{
		Topic:      TopicAdjustment,
		Symbol:     tr.Adjustment.Symbol,
		Transition: &tr,
		Published:  time.Now(),
	})
}

func (f *Feed) publish(msg Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}
	f.published.Add(1)

	for _, sub := range f.subs {
		if !sub.wants(msg.Topic) {
			continue
		}
		select {
		case sub.ch <- msg:
			f.delivered.Add(1)
		default:
			f.dropped.Add(1)
			f.logger.Warn("Feed message dropped - subscriber buffer full",
				zap.String("subscription_id", sub.ID),
				zap.String("topic", string(msg.Topic)),
			)
		}
	}
}

// Stats returns current delivery counters
func (f *Feed) Stats() FeedStats {
	f.mu.RLock()
	active := int64(len(f.subs))
	f.mu.RUnlock()

	return FeedStats{
		Published:         f.published.Load(),
		Delivered:         f.delivered.Load(),
		Dropped:           f.dropped.Load(),
		ActiveSubscribers: active,
	}
}

// Close shuts the feed down and closes every subscription channel
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		sub.active.Store(false)
		close(sub.ch)
		delete(f.subs, id)
	}

	f.logger.Info("Feed closed",
		zap.Int64("published", f.published.Load()),
		zap.Int64("dropped", f.dropped.Load()),
	)
}
