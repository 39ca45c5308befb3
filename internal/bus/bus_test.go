package bus

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestBus(bufSize int) *Bus {
	return New(logs.GetLoggerFromLevel(slog.LevelError), bufSize)
}

func messageEvent(from, to uuid.UUID, body string) Event {
	return Event{
		Type: EventMessageNew,
		Message: &domain.DeliveryEvent{
			MessageID:  domain.NewMessageID(time.Now()),
			SenderID:   from,
			ReceiverID: to,
			Body:       body,
		},
	}
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(time.Second):
		require.FailNow(t, "no event delivered")
	}
	return Event{}
}

func requireNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case evt := <-sub.Events():
		require.FailNow(t, "unexpected event", "%+v", evt)
	default:
	}
}

func TestBus_DeliversToParticipantsOnly(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(8)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	aliceSub, bobSub, carolSub, anon := b.Subscribe(), b.Subscribe(), b.Subscribe(), b.Subscribe()
	aliceSub.Announce(alice)
	bobSub.Announce(bob)
	carolSub.Announce(carol)

	require.NoError(t, b.Publish(ctx, messageEvent(alice, bob, "hi")))

	require.Equal(t, "hi", receive(t, aliceSub).Message.Body)
	require.Equal(t, "hi", receive(t, bobSub).Message.Body)
	requireNothing(t, carolSub)
	requireNothing(t, anon)
}

func TestBus_SkipsOrigin(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(8)
	alice, bob := uuid.New(), uuid.New()

	phone, laptop := b.Subscribe(), b.Subscribe()
	phone.Announce(alice)
	laptop.Announce(alice)

	evt := messageEvent(alice, bob, "from phone")
	evt.Origin = phone.ID()
	require.NoError(t, b.Publish(ctx, evt))

	requireNothing(t, phone)
	require.Equal(t, "from phone", receive(t, laptop).Message.Body)
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(64)
	alice, bob := uuid.New(), uuid.New()
	sub := b.Subscribe()
	sub.Announce(bob)

	var want []string
	for i := 0; i < 20; i++ {
		evt := messageEvent(alice, bob, "m")
		want = append(want, evt.Message.MessageID)
		require.NoError(t, b.Publish(ctx, evt))
	}
	for _, id := range want {
		require.Equal(t, id, receive(t, sub).Message.MessageID)
	}
}

func TestBus_UnsubscribeIsIdempotentAndCloses(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(8)
	alice, bob := uuid.New(), uuid.New()
	sub := b.Subscribe()
	sub.Announce(bob)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.Len())

	_, ok := <-sub.Events()
	require.False(t, ok)

	// Publishing after teardown must not panic on the closed channel.
	require.NoError(t, b.Publish(ctx, messageEvent(alice, bob, "late")))
	require.Equal(t, 0, b.Connections(bob))
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(2)
	alice, bob := uuid.New(), uuid.New()
	slow, fast := b.Subscribe(), b.Subscribe()
	slow.Announce(bob)
	fast.Announce(alice)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = b.Publish(ctx, messageEvent(alice, bob, "m"))
			<-fast.Events()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "publish blocked on a slow subscriber")
	}
	require.Len(t, slow.Events(), 2)
	require.Equal(t, uint64(8), b.Stats().Dropped)
}

func TestBus_PresenceGoesToEveryoneElse(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(8)
	alice, bob := uuid.New(), uuid.New()
	aliceSub, bobSub := b.Subscribe(), b.Subscribe()
	aliceSub.Announce(alice)
	bobSub.Announce(bob)

	require.NoError(t, b.Publish(ctx, Event{
		Type:     EventPresence,
		Presence: &domain.PresenceEvent{UserID: alice, Status: domain.PresenceOnline},
	}))

	requireNothing(t, aliceSub)
	require.Equal(t, alice, receive(t, bobSub).Presence.UserID)
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(4)
	alice, bob := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := b.Subscribe()
			sub.Announce(bob)
			b.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			_ = b.Publish(ctx, messageEvent(alice, bob, "race"))
		}()
	}
	wg.Wait()
	require.Equal(t, 0, b.Len())
}

func TestOriginContext(t *testing.T) {
	ctx := WithOrigin(context.Background(), "sub-1")
	require.Equal(t, "sub-1", OriginFromContext(ctx))
	require.Empty(t, OriginFromContext(context.Background()))
}
