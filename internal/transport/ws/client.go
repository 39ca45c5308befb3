package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/service"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 16 << 10
	replyBufSize   = 16
)

// Client represents a single WebSocket connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	sub        *bus.Subscription
	identity   *identity.Identity
	credential string
	limiter    *rate.Limiter

	// replies carries direct answers (acks, pongs, errors) to the write pump.
	replies chan *Event
}

func newClient(hub *Hub, conn *websocket.Conn, sub *bus.Subscription, id *identity.Identity, credential string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		sub:        sub,
		identity:   id,
		credential: credential,
		limiter:    hub.newLimiter(),
		replies:    make(chan *Event, replyBufSize),
	}
}

// run pumps until either side fails or ctx ends.
func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		c.writePump(ctx)
	}()

	c.readPump(ctx)
	cancel()
	<-writerDone
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) readPump(ctx context.Context) {
	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
			default:
				c.hub.log.Debug("WebSocket read ended", "user_id", c.identity.UserID, "error", err)
			}
			return
		}

		c.handleEvent(ctx, &event)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case delivered, ok := <-c.sub.Events():
			if !ok {
				return
			}
			event, err := fromBus(delivered)
			if err != nil {
				c.hub.log.Warn("Skipping bus event", "error", err)
				continue
			}
			if err := c.write(ctx, event); err != nil {
				return
			}

		case event := <-c.replies:
			if err := c.write(ctx, event); err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.hub.log.Debug("WebSocket ping failed", "user_id", c.identity.UserID, "error", err)
				return
			}
		}
	}
}

func (c *Client) write(ctx context.Context, event *Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := wsjson.Write(writeCtx, c.conn, event); err != nil {
		c.hub.log.Debug("WebSocket write failed", "user_id", c.identity.UserID, "error", err)
		return err
	}
	return nil
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeMessageSend:
		c.handleSend(ctx, event)

	case EventTypePing:
		c.reply(&Event{Type: EventTypePong, Timestamp: time.Now().Unix()})

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type, "")
	}
}

func (c *Client) handleSend(ctx context.Context, event *Event) {
	var p MessageSendPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		c.sendError("INVALID_PAYLOAD", "invalid message.send payload", "")
		return
	}
	if !c.limiter.Allow() {
		c.sendError("RATE_LIMITED", "sending too fast, slow down", p.Nonce)
		return
	}

	// The sending connection gets the ack below instead of the push.
	ctx = bus.WithOrigin(ctx, c.sub.ID())
	msg, err := c.hub.messages.Send(ctx, c.credential, service.SendInput{
		ReceiverID: p.ReceiverID,
		Body:       p.Body,
		ImageURL:   p.ImageURL,
	})
	if err != nil {
		code, message := describe(err)
		c.sendError(code, message, p.Nonce)
		return
	}

	ack, err := NewEvent(EventTypeMessageSent, MessageSentPayload{Nonce: p.Nonce, Message: msg})
	if err != nil {
		return
	}
	c.reply(ack)
}

func (c *Client) sendError(code, message, nonce string) {
	evt, err := NewEvent(EventTypeError, ErrorPayload{Code: code, Message: message, Nonce: nonce})
	if err != nil {
		return
	}
	c.reply(evt)
}

func (c *Client) reply(evt *Event) {
	select {
	case c.replies <- evt:
	default:
		c.hub.log.Warn("Reply buffer full, dropping", "user_id", c.identity.UserID, "type", evt.Type)
	}
}

// describe hides server-side failure details from the client.
func describe(err error) (code, message string) {
	code = domain.Code(err)
	switch code {
	case "INTERNAL":
		return code, "Something went wrong"
	case "STORAGE_UNAVAILABLE":
		return code, "Storage is unavailable, try again later"
	}
	return code, err.Error()
}
