// ABOUTME: In-memory fan-out event broadcaster for cross-client awareness
// ABOUTME: Publishes assignment envelopes to all subscribers of a topic

package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/relaywise/supportd/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for assignment envelopes.
// Subscribers register for a topic (a conversation ID, or TopicAgents for
// the all-agents refresh feed) and receive events as they are emitted.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Envelope // topic -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Envelope),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given topic.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan Envelope, string) {
	subID := uuid.New().String()
	ch := make(chan Envelope, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Envelope)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(topic string, event Envelope) {
	b.mu.RLock()
	subs, ok := b.subscribers[topic]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan Envelope, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			// Sent
		default:
			// Subscriber channel full, drop the event for this subscriber
			b.logger.Debug("dropped event for slow subscriber",
				"topic", topic,
				"event_id", event.Meta.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty topic entries
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}

	b.logger.Debug("broadcaster closed")
}

// EmitAssignment publishes the envelope to the conversation's own topic and
// to the all-agents feed so every agent UI refreshes.
func (b *Broadcaster) EmitAssignment(_ context.Context, conv *store.Conversation, agent *store.Agent, kind Kind) error {
	env := NewAssignmentEnvelope(conv, agent, kind)
	b.Publish(conv.ID, env)
	b.Publish(TopicAgents, env)
	return nil
}

// EmitQueued publishes the queued envelope to the conversation's topic and
// the all-agents feed.
func (b *Broadcaster) EmitQueued(_ context.Context, conv *store.Conversation) error {
	env := NewQueuedEnvelope(conv)
	b.Publish(conv.ID, env)
	b.Publish(TopicAgents, env)
	return nil
}

var _ Emitter = (*Broadcaster)(nil)
