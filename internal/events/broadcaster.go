// ABOUTME: In-memory fan-out broadcaster for relay events
// ABOUTME: Delivers chat chunks and title changes to per-conversation and global subscribers

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/aethos/internal/relay"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// DefaultPublishWait bounds how long Publish waits on a full subscriber.
	DefaultPublishWait = 5 * time.Second

	// allConversations is the subscriber key for SubscribeAll.
	allConversations = "*"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("broadcaster closed")

// Event is one published relay event.
type Event struct {
	Name           string `json:"event"`
	ConversationID string `json:"conversationId"`
	Payload        any    `json:"payload"`
}

// Broadcaster provides in-memory pub/sub for relay events. It implements
// relay.Emitter.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // conversation id -> sub id -> ch
	closed      bool
	wait        time.Duration
	logger      *slog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithPublishWait sets how long a publish waits on a full subscriber before
// dropping the event for it.
func WithPublishWait(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.wait = d
		}
	}
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		wait:        DefaultPublishWait,
		logger:      logger.With("component", "broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers for events of one conversation. The subscription is
// removed and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan Event, string) {
	return b.subscribe(ctx, conversationID)
}

// SubscribeAll registers for events of every conversation.
func (b *Broadcaster) SubscribeAll(ctx context.Context) (<-chan Event, string) {
	return b.subscribe(ctx, allConversations)
}

func (b *Broadcaster) subscribe(ctx context.Context, key string) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "conversation_id", key, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return ch, subID
}

// Emit implements relay.Emitter. The conversation id is taken from the
// payload when it is a relay event.
func (b *Broadcaster) Emit(ctx context.Context, name string, payload any) error {
	event := Event{Name: name, Payload: payload}
	switch p := payload.(type) {
	case relay.ChunkEvent:
		event.ConversationID = p.ConversationID
	case relay.TitleEvent:
		event.ConversationID = p.ConversationID
	}
	return b.Publish(ctx, event)
}

// Publish delivers event to the conversation's subscribers and to
// SubscribeAll subscribers. A full subscriber gets up to the publish wait
// before the event is dropped for it; per-subscriber order follows publish
// order.
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var targets []chan Event
	for _, key := range []string{event.ConversationID, allConversations} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	defer b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			continue
		default:
		}

		timer := time.NewTimer(b.wait)
		select {
		case ch <- event:
		case <-timer.C:
			b.logger.Warn("dropped event for slow subscriber",
				"event", event.Name,
				"conversation_id", event.ConversationID)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
	return nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed", "conversation_id", conversationID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}

var _ relay.Emitter = (*Broadcaster)(nil)
