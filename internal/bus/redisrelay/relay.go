// Package redisrelay stretches the delivery bus across processes. Events are
// published to a Redis pub/sub channel; every process relays what it receives
// into its local bus. Redis pub/sub is fire-and-forget, which matches the
// bus's at-most-once contract.
package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/848838/ChatApp/internal/bus"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "chat:delivery"

// Local is the in-process bus events are relayed into.
type Local interface {
	Publish(ctx context.Context, evt bus.Event) error
}

type Relay struct {
	client  *redis.Client
	local   Local
	channel string
	log     *slog.Logger
}

var _ bus.Publisher = (*Relay)(nil)

type Option func(*Relay)

func WithChannel(name string) Option {
	return func(r *Relay) { r.channel = name }
}

func New(client *redis.Client, local Local, log *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		client:  client,
		local:   local,
		channel: DefaultChannel,
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish sends evt to every process, this one included.
func (r *Relay) Publish(ctx context.Context, evt bus.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run relays events from Redis into the local bus until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.log.Info("Delivery relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	var evt bus.Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		r.log.Warn("Dropping malformed relay payload", "error", err)
		return
	}
	if err := r.local.Publish(ctx, evt); err != nil {
		r.log.Warn("Local delivery failed", "type", evt.Type, "error", err)
	}
}
