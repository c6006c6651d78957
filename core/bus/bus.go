// Package bus distributes entity notifications to live subscribers.
//
// Topics are registered explicitly at startup, one ADDED and one EDIT topic per
// entity type. Publishing never blocks: a subscriber whose buffer is full misses
// the notification.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctigraph",
		Subsystem: "bus",
		Name:      "notifications_delivered_total",
		Help:      "Notifications delivered to subscribers by topic.",
	}, []string{"topic"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctigraph",
		Subsystem: "bus",
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped for slow subscribers by topic.",
	}, []string{"topic"})
)

// TopicName returns the topic name for an entity type and an action,
// e.g. "KILL_CHAIN_PHASE_ADDED_TOPIC" for "kill-chain-phase" and "ADDED".
func TopicName(entityType string, action string) string {
	return strings.ToUpper(strings.ReplaceAll(entityType, "-", "_")) + "_" + action + "_TOPIC"
}

// AddedTopic is the topic notified when an entity of entityType is created.
func AddedTopic(entityType string) string {
	return TopicName(entityType, "ADDED")
}

// EditTopic is the topic notified when an entity of entityType or its relations
// or edit context change.
func EditTopic(entityType string) string {
	return TopicName(entityType, "EDIT")
}

// Notification is a single published mutation. Entity is the full state after the mutation.
type Notification struct {
	Topic       string        `json:"topic"`
	Entity      *model.Entity `json:"entity"`
	User        string        `json:"user"`
	PublishedAt time.Time     `json:"published_at"`
}

// subscription represents a single client subscription.
type subscription struct {
	id     string
	ch     chan Notification
	topics map[string]bool // Empty means all topics
	ctx    context.Context
	cancel context.CancelFunc
}

// Bus manages topic registration and notification fan-out.
// It is safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	topics      map[string]bool
	subscribers map[string]*subscription
	bufferSize  int
	logger      *slog.Logger
	closed      bool
}

// Option is a functional option for configuring Bus.
type Option func(*Bus)

// WithBufferSize sets the buffer size for subscriber channels.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// New creates an empty bus. Topics must be registered before use.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		topics:      make(map[string]bool),
		subscribers: make(map[string]*subscription),
		bufferSize:  helper.DefaultBusBufferSize,
		logger:      logger.With("component", "bus"),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// RegisterTopic makes topic available for publishing and subscribing.
func (b *Bus) RegisterTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.topics[topic] = true
}

// RegisterEntityType registers the ADDED and EDIT topics of entityType.
func (b *Bus) RegisterEntityType(entityType string) {
	b.RegisterTopic(AddedTopic(entityType))
	b.RegisterTopic(EditTopic(entityType))

	b.logger.Debug("registered entity type", "entity_type", entityType)
}

// HasTopic reports whether topic was registered.
func (b *Bus) HasTopic(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.topics[topic]
}

// Publish sends entity to all subscribers of topic without blocking.
// Subscribers with a full buffer miss the notification. The error is only
// informational, a mutation never fails because of it.
func (b *Bus) Publish(ctx context.Context, topic string, entity *model.Entity, user string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	if !b.topics[topic] {
		b.logger.Warn("publish to unknown topic", "topic", topic)
		return fmt.Errorf("unknown topic %s", topic)
	}

	notification := Notification{
		Topic:       topic,
		Entity:      snapshot(entity),
		User:        user,
		PublishedAt: time.Now().UTC(),
	}

	sent := 0
	dropped := 0
	for _, sub := range b.subscribers {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}

		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}

		select {
		case sub.ch <- notification:
			sent++
		default:
			dropped++
			b.logger.Warn("dropped notification for slow subscriber",
				"subscriber_id", sub.id,
				"topic", topic,
			)
		}
	}

	publishedTotal.WithLabelValues(topic).Add(float64(sent))
	droppedTotal.WithLabelValues(topic).Add(float64(dropped))

	if sent > 0 || dropped > 0 {
		b.logger.Debug("published notification",
			"topic", topic,
			"sent", sent,
			"dropped", dropped,
		)
	}

	return nil
}

// Subscribe creates a subscription to topics, all topics if none are given.
// The subscription ends when ctx is done or cleanup is called, the channel is closed then.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) (<-chan Notification, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, fmt.Errorf("bus is closed")
	}

	topicMap := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if !b.topics[topic] {
			return nil, nil, model.NewValidationError("unknown topic %s", topic)
		}
		topicMap[topic] = true
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     uuid.NewString(),
		ch:     make(chan Notification, b.bufferSize),
		topics: topicMap,
		ctx:    subCtx,
		cancel: cancel,
	}
	b.subscribers[sub.id] = sub

	b.logger.Debug("new subscription created",
		"subscriber_id", sub.id,
		"topics", topics,
	)

	go func() {
		<-subCtx.Done()
		b.unsubscribe(sub.id)
	}()

	cleanup := func() {
		b.unsubscribe(sub.id)
	}

	return sub.ch, cleanup, nil
}

// unsubscribe removes a subscription and closes its channel.
func (b *Bus) unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[subscriberID]
	if !exists {
		return
	}

	sub.cancel()
	close(sub.ch)
	delete(b.subscribers, subscriberID)

	b.logger.Debug("subscription removed", "subscriber_id", subscriberID)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, sub := range b.subscribers {
		sub.cancel()
		close(sub.ch)
		delete(b.subscribers, id)
	}

	b.logger.Info("bus closed")
	return nil
}

// SubscriberCount returns the current number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}

// snapshot copies entity so subscribers cannot change the state seen by others.
func snapshot(entity *model.Entity) *model.Entity {
	if entity == nil {
		return nil
	}
	c := *entity
	c.Attributes = entity.Attributes.Clone()
	return &c
}
