package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/google/uuid"
)

// Event types - Client → Server
const (
	EventTypeMessageSend = "message.send"
	EventTypePing        = "ping"
)

// Event types - Server → Client
const (
	EventTypeMessageNew     = string(bus.EventMessageNew)
	EventTypeMessageSent    = "message.sent"
	EventTypeMessageDeleted = string(bus.EventMessageDeleted)
	EventTypePresence       = string(bus.EventPresence)
	EventTypePong           = "pong"
	EventTypeError          = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type MessageSendPayload struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
	Body       string    `json:"body"`
	ImageURL   *string   `json:"image_url,omitempty"`
	// Nonce is echoed back in the ack or error so clients can match replies.
	Nonce string `json:"nonce,omitempty"`
}

// --- Server → Client payloads ---

type MessageSentPayload struct {
	Nonce   string          `json:"nonce,omitempty"`
	Message *domain.Message `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Nonce   string `json:"nonce,omitempty"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// fromBus converts a delivered bus event into its wire form.
func fromBus(evt bus.Event) (*Event, error) {
	switch evt.Type {
	case bus.EventMessageNew:
		return NewEvent(EventTypeMessageNew, evt.Message)
	case bus.EventMessageDeleted:
		return NewEvent(EventTypeMessageDeleted, evt.Deleted)
	case bus.EventPresence:
		return NewEvent(EventTypePresence, evt.Presence)
	}
	return nil, fmt.Errorf("unknown bus event type %q", evt.Type)
}
