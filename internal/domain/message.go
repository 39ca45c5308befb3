package domain

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Message is a single direct message. It is immutable once stored; the only
// mutation is a hard delete.
type Message struct {
	ID         string    `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Body       string    `json:"body"`
	ImageURL   *string   `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasImage reports whether the message carries a non-empty image reference.
func (m *Message) HasImage() bool {
	return m.ImageURL != nil && strings.TrimSpace(*m.ImageURL) != ""
}

// Validate checks the invariants every stored message must hold.
func (m *Message) Validate() error {
	switch {
	case m.SenderID == uuid.Nil:
		return ErrMissingSender
	case m.ReceiverID == uuid.Nil:
		return ErrMissingReceiver
	case m.SenderID == m.ReceiverID:
		return ErrSelfMessage
	case strings.TrimSpace(m.Body) == "" && !m.HasImage():
		return ErrEmptyMessage
	}
	return nil
}

// Involves reports whether userID is the sender or the receiver.
func (m *Message) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart returns the other participant from userID's point of view.
func (m *Message) Counterpart(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Before orders messages by creation time, then by id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// ConversationKey returns the canonical (low, high) ordering of a user pair.
// Both directions of a conversation map to the same key.
func ConversationKey(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

// PageQuery narrows a history listing. A zero Limit returns the whole conversation.
type PageQuery struct {
	Before string
	Limit  int
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a ULID for t. IDs generated by one process for the same
// millisecond are strictly increasing, which keeps insertion order on ties.
func NewMessageID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), idEntropy).String()
}

// Timestamp truncates t to the precision the durable store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// EnrichedMessage is a stored message with the sender's current display fields.
type EnrichedMessage struct {
	Message
	SenderName      string  `json:"sender_name"`
	SenderAvatarURL *string `json:"sender_avatar_url,omitempty"`
}

// DeliveryEvent is pushed to connected participants when a message is created.
// Sender fields are frozen at send time.
type DeliveryEvent struct {
	MessageID       string    `json:"message_id"`
	SenderID        uuid.UUID `json:"sender_id"`
	SenderName      string    `json:"sender_name"`
	SenderAvatarURL *string   `json:"sender_avatar_url,omitempty"`
	ReceiverID      uuid.UUID `json:"receiver_id"`
	Body            string    `json:"body"`
	ImageURL        *string   `json:"image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func NewDeliveryEvent(msg *Message, senderName string, senderAvatar *string) *DeliveryEvent {
	return &DeliveryEvent{
		MessageID:       msg.ID,
		SenderID:        msg.SenderID,
		SenderName:      senderName,
		SenderAvatarURL: senderAvatar,
		ReceiverID:      msg.ReceiverID,
		Body:            msg.Body,
		ImageURL:        msg.ImageURL,
		CreatedAt:       msg.CreatedAt,
	}
}

// DeletionEvent tells both participants that a message is gone.
type DeletionEvent struct {
	MessageID  string    `json:"message_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	DeletedBy  uuid.UUID `json:"deleted_by"`
}

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

type PresenceEvent struct {
	UserID     uuid.UUID  `json:"user_id"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// MessagePreview is the last message of a conversation as shown in the chat list.
type MessagePreview struct {
	ID        string    `json:"id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Body      string    `json:"body"`
	HasImage  bool      `json:"has_image"`
	CreatedAt time.Time `json:"created_at"`
}

type ConversationSummary struct {
	Counterpart   UserSummary     `json:"counterpart"`
	LastMessage   *MessagePreview `json:"last_message,omitempty"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty"`
}
