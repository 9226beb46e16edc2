package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

// subscriber buffer; publishes to a full subscriber are dropped with a
// warning rather than blocking the store's insert path
const subscriptionBuffer = 256

// Event is one store insert relayed to every subscriber of the conversation.
type Event struct {
	ConversationID uuid.UUID      `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// Subscription is a per-viewer handle on a conversation's event feed.
// Events arrive on C in store insertion order. Close releases the
// subscription and is safe to call more than once.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// NewSubscription wraps an externally fed event channel, letting remote
// feeds (such as a websocket reader) stand in for the in-process broker.
func NewSubscription(c <-chan Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Source is anything a viewer session can subscribe to for insert events.
type Source interface {
	Subscribe(conversationID uuid.UUID) (*Subscription, error)
}

// Broker is the in-process broadcast bus. Every insert published for a
// conversation is delivered to each of that conversation's subscribers in
// publish order; there is no delivery-time guarantee across subscribers.
type Broker struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[uint64]chan Event
	nextID uint64
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[uint64]chan Event)}
}

// Subscribe registers a new subscriber for one conversation's inserts.
func (b *Broker) Subscribe(conversationID uuid.UUID) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriptionBuffer)
	if b.closed {
		close(ch)
		return NewSubscription(ch, nil), nil
	}

	b.nextID++
	id := b.nextID
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[uint64]chan Event)
	}
	b.subs[conversationID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if chans, ok := b.subs[conversationID]; ok {
			if c, ok := chans[id]; ok {
				delete(chans, id)
				close(c)
			}
			if len(chans) == 0 {
				delete(b.subs, conversationID)
			}
		}
	}
	return NewSubscription(ch, cancel), nil
}

// Publish relays one insert to every subscriber of the event's conversation.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs[evt.ConversationID] {
		select {
		case ch <- evt:
		default:
			log.Warn().
				Str("conversation_id", evt.ConversationID.String()).
				Uint64("subscriber", id).
				Msg("bus subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount reports the number of live subscriptions for a conversation.
func (b *Broker) SubscriberCount(conversationID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[conversationID])
}

// Close shuts the broker down and closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[uuid.UUID]map[uint64]chan Event)
}
