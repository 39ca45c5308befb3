// Package bus is the process-wide delivery bus. It fans out message, deletion
// and presence events to live subscriptions. Delivery is best-effort and
// at-most-once: nothing is persisted or replayed, the message store stays the
// source of truth.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageNew     EventType = "message.new"
	EventMessageDeleted EventType = "message.deleted"
	EventPresence       EventType = "presence"
)

// Event is what travels over the bus. Exactly one payload is set, matching Type.
type Event struct {
	Type EventType `json:"type"`
	// Origin is the subscription that caused the event; it is skipped on delivery.
	Origin   string                `json:"origin,omitempty"`
	Message  *domain.DeliveryEvent `json:"message,omitempty"`
	Deleted  *domain.DeletionEvent `json:"deleted,omitempty"`
	Presence *domain.PresenceEvent `json:"presence,omitempty"`
}

// wants reports whether a subscriber announced as userID is in the event's audience.
func (e Event) wants(userID uuid.UUID) bool {
	switch e.Type {
	case EventMessageNew:
		return e.Message != nil && (e.Message.SenderID == userID || e.Message.ReceiverID == userID)
	case EventMessageDeleted:
		return e.Deleted != nil && (e.Deleted.SenderID == userID || e.Deleted.ReceiverID == userID)
	case EventPresence:
		return e.Presence != nil && e.Presence.UserID != userID
	}
	return false
}

//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_publisher.go -package=mocks github.com/848838/ChatApp/internal/bus Publisher

// Publisher is what the message service needs from the bus.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

const DefaultBufferSize = 256

// Bus owns the subscriber registry. The lock guards only the registry; delivery
// runs on a snapshot so a slow subscriber never blocks connects or publishes.
type Bus struct {
	log     *slog.Logger
	bufSize int

	mu   sync.RWMutex
	subs map[string]*Subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

var _ Publisher = (*Bus)(nil)

func New(log *slog.Logger, bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		log:     log,
		bufSize: bufSize,
		subs:    make(map[string]*Subscription),
	}
}

// Subscribe registers a new live connection. The subscription receives nothing
// until it is announced.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Event, b.bufSize),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	total := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("Subscription added", "subscription_id", sub.id, "total", total)
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it again is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	total := len(b.subs)
	b.mu.Unlock()

	sub.close()
	if ok {
		b.log.Debug("Subscription removed", "subscription_id", sub.id, "total", total)
	}
}

// Publish hands evt to every announced subscription in its audience. It never
// blocks: a subscription whose buffer is full loses the event.
func (b *Bus) Publish(_ context.Context, evt Event) error {
	b.published.Add(1)

	for _, sub := range b.snapshot() {
		if sub.id == evt.Origin {
			continue
		}
		userID, ok := sub.UserID()
		if !ok || !evt.wants(userID) {
			continue
		}
		if !sub.deliver(evt) {
			b.dropped.Add(1)
			b.log.Warn("Subscriber buffer full, event dropped",
				"subscription_id", sub.id, "user_id", userID, "type", evt.Type)
		}
	}
	return nil
}

// Connections counts live subscriptions announced as userID.
func (b *Bus) Connections(userID uuid.UUID) int {
	n := 0
	for _, sub := range b.snapshot() {
		if id, ok := sub.UserID(); ok && id == userID {
			n++
		}
	}
	return n
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type Stats struct {
	Subscribers int
	Published   uint64
	Dropped     uint64
}

func (b *Bus) Stats() Stats {
	return Stats{
		Subscribers: b.Len(),
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}

func (b *Bus) snapshot() []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub)
	}
	return out
}

// Subscription is one live connection's view of the bus.
type Subscription struct {
	id string
	ch chan Event

	mu        sync.Mutex
	userID    uuid.UUID
	announced bool
	closed    bool
}

func (s *Subscription) ID() string { return s.id }

// Events yields delivered events. The channel is closed on Unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Announce claims userID for this connection. It is a best-effort online
// marker, not authoritative presence.
func (s *Subscription) Announce(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.announced = true
}

func (s *Subscription) UserID() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.announced
}

func (s *Subscription) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
