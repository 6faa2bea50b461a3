package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Broker)(nil)
	_ ext.JobTransitioned     = (*Broker)(nil)
	_ ext.JobProgressed       = (*Broker)(nil)
	_ ext.SubscriptionChanged = (*Broker)(nil)
	_ ext.Shutdown            = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the real-time stream broker. It implements the extension
// hooks to receive events and fans them out to subscribers via
// topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics. An existing
// subscriber with the same id is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	if prev, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		b.topics.UnsubscribeAll(subscriberID)
		prev.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Publish broadcasts evt to every matching topic plus extra ones.
func (b *Broker) Publish(evt *Event, extra ...string) {
	topics := resolveTopics(evt, extra...)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

func (b *Broker) publishJSON(evt *Event, data any, extra ...string) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.totalDropped.Add(1)
		b.logger.Error("stream: marshal event data",
			slog.String("event_type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	evt.Data = raw
	b.Publish(evt, extra...)
}

// ── Job hooks ───────────────────────────────────────

// OnJobTransition implements ext.JobTransitioned.
func (b *Broker) OnJobTransition(_ context.Context, t event.Transition) error {
	b.publishJSON(&Event{
		ID:        t.ID.String(),
		Type:      EventType(t.Type()),
		Timestamp: t.At,
		Topic:     JobTopic(t.JobID.String()),
	}, t, PriorityTopic(t.Priority))
	return nil
}

// OnJobProgress implements ext.JobProgressed.
func (b *Broker) OnJobProgress(_ context.Context, p event.Progress) error {
	b.publishJSON(&Event{
		ID:        p.ID.String(),
		Type:      EventProgress,
		Timestamp: p.At,
		Topic:     JobTopic(p.JobID.String()),
	}, p)
	return nil
}

// ── Webhook registry hooks ──────────────────────────

// OnSubscriptionChange implements ext.SubscriptionChanged.
func (b *Broker) OnSubscriptionChange(_ context.Context, c event.SubscriptionChange) error {
	typ := EventWebhookRegistered
	if c.Action == event.SubscriptionUnregistered {
		typ = EventWebhookUnregistered
	}
	b.publishJSON(&Event{Type: typ, Timestamp: c.At}, c)
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown implements ext.Shutdown. It closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.topics.UnsubscribeAll(sub.ID())
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
