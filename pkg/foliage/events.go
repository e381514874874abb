package foliage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of change event
type EventType string

const (
	EventCreated  EventType = "created"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
	EventShared   EventType = "shared"
	EventBranched EventType = "branched"
)

// Event represents a change notification
type Event struct {
	Type      EventType `json:"type"`
	DocID     uuid.UUID `json:"doc_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionOptions configures a subscription
type SubscriptionOptions struct {
	// Events filters by event type (nil = all events)
	Events []EventType
}

// Subscription represents an active event subscription
type Subscription interface {
	// Events returns the channel to receive events on
	Events() <-chan Event
	// Close stops the subscription and closes the channel
	Close()
}

type subscriptionImpl struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
	filter SubscriptionOptions
}

func newSubscription(bufferSize int, opts SubscriptionOptions) *subscriptionImpl {
	return &subscriptionImpl{
		ch:     make(chan Event, bufferSize),
		filter: opts,
	}
}

func (s *subscriptionImpl) Events() <-chan Event {
	return s.ch
}

func (s *subscriptionImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscriptionImpl) matches(event Event) bool {
	if len(s.filter.Events) == 0 {
		return true
	}
	for _, et := range s.filter.Events {
		if et == event.Type {
			return true
		}
	}
	return false
}

func (s *subscriptionImpl) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.matches(event) {
		select {
		case s.ch <- event:
		default:
			// Buffer full, drop event (non-blocking)
		}
	}
}

// EventBus manages subscriptions and broadcasts events
type EventBus struct {
	subs []*subscriptionImpl
	mu   sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe creates a new subscription (all events)
func (b *EventBus) Subscribe() Subscription {
	return b.SubscribeWithOptions(SubscriptionOptions{})
}

// SubscribeWithOptions creates a new subscription with filtering
func (b *EventBus) SubscribeWithOptions(opts SubscriptionOptions) Subscription {
	sub := newSubscription(100, opts)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Publish sends an event to all subscribers
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(event)
	}
}

// Unsubscribe removes a subscription
func (b *EventBus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			s.Close()
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close closes all subscriptions
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
}
