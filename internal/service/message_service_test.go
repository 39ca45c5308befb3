package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/848838/ChatApp/internal/blob"
	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/mocks"
	"github.com/848838/ChatApp/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testSecret = "service-test-secret"

type fixture struct {
	store  *memory.Store
	bus    *bus.Bus
	svc    *MessageService
	now    time.Time
	users  map[string]*domain.User
	tokens map[string]string
}

func newFixture(t *testing.T, opts ...MessageOption) *fixture {
	t.Helper()
	f := &fixture{
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		users:  map[string]*domain.User{},
		tokens: map[string]string{},
	}
	f.store = memory.New(memory.WithClock(func() time.Time { return f.now }))
	log := logs.GetLoggerFromLevel(slog.LevelError)
	f.bus = bus.New(log, 16)

	issuer := identity.NewIssuer(testSecret, time.Hour)
	for _, name := range []string{"Alice", "Bob", "Carol", "Dave"} {
		u := &domain.User{ID: uuid.New(), Email: name + "@example.com", Name: name}
		require.NoError(t, f.store.Users().Create(context.Background(), u))
		tok, err := issuer.Issue(u.ID)
		require.NoError(t, err)
		f.users[name] = u
		f.tokens[name] = tok
	}

	resolver := identity.NewJWTResolver(testSecret, f.store.Users())
	opts = append([]MessageOption{WithPresence(f.store.Presence())}, opts...)
	f.svc = NewMessageService(f.store.Users(), f.store.Messages(), resolver, f.bus, log, opts...)
	return f
}

func (f *fixture) id(name string) uuid.UUID { return f.users[name].ID }

func (f *fixture) subscribe(name string) *bus.Subscription {
	sub := f.bus.Subscribe()
	sub.Announce(f.id(name))
	return sub
}

func (f *fixture) send(t *testing.T, from, to, body string) *domain.Message {
	t.Helper()
	msg, err := f.svc.Send(context.Background(), f.tokens[from], SendInput{ReceiverID: f.id(to), Body: body})
	require.NoError(t, err)
	return msg
}

func nextEvent(t *testing.T, sub *bus.Subscription) bus.Event {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(time.Second):
		require.FailNow(t, "no event delivered")
	}
	return bus.Event{}
}

func TestMessageService_SendAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bobSub := f.subscribe("Bob")

	sent := f.send(t, "Alice", "Bob", "hi")
	require.NotEmpty(t, sent.ID)
	require.Equal(t, f.id("Alice"), sent.SenderID)
	require.Equal(t, f.id("Bob"), sent.ReceiverID)
	require.Nil(t, sent.ImageURL)

	history, err := f.svc.History(ctx, f.tokens["Bob"], f.id("Alice"), domain.PageQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, *sent, history[0].Message)
	require.Equal(t, "Alice", history[0].SenderName)

	evt := nextEvent(t, bobSub)
	require.Equal(t, bus.EventMessageNew, evt.Type)
	require.Equal(t, sent.ID, evt.Message.MessageID)
	require.Equal(t, "Alice", evt.Message.SenderName)
	require.Equal(t, "hi", evt.Message.Body)
}

func TestMessageService_SendRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	aliceSub, bobSub := f.subscribe("Alice"), f.subscribe("Bob")

	tests := []struct {
		name  string
		token string
		in    SendInput
		want  error
	}{
		{"empty body and no image", f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Body: "   "}, domain.ErrEmptyMessage},
		{"missing receiver", f.tokens["Alice"], SendInput{Body: "hi"}, domain.ErrMissingReceiver},
		{"message to self", f.tokens["Alice"], SendInput{ReceiverID: f.id("Alice"), Body: "hi"}, domain.ErrSelfMessage},
		{"unknown receiver", f.tokens["Alice"], SendInput{ReceiverID: uuid.New(), Body: "hi"}, domain.ErrUnknownUser},
		{"image bytes and url", f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Image: []byte{1}, ImageURL: lo.ToPtr("x")}, domain.ErrAmbiguousImage},
		{"blank image url and no body", f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), ImageURL: lo.ToPtr("  ")}, domain.ErrEmptyMessage},
		{"bad credential", "garbage", SendInput{ReceiverID: f.id("Bob"), Body: "hi"}, domain.ErrAuth},
		{"missing credential", "", SendInput{ReceiverID: f.id("Bob"), Body: "hi"}, domain.ErrMissingCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := f.svc.Send(ctx, tt.token, tt.in)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, msg)
		})
	}

	history, err := f.svc.History(ctx, f.tokens["Alice"], f.id("Bob"), domain.PageQuery{})
	require.NoError(t, err)
	require.Empty(t, history)
	require.Len(t, aliceSub.Events(), 0)
	require.Len(t, bobSub.Events(), 0)
}

func TestMessageService_BlankImageURLIsAbsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bobSub := f.subscribe("Bob")

	for _, url := range []string{"", "   "} {
		sent, err := f.svc.Send(ctx, f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Body: "hi", ImageURL: lo.ToPtr(url)})
		require.NoError(t, err)
		require.Nil(t, sent.ImageURL)

		evt := nextEvent(t, bobSub)
		require.Nil(t, evt.Message.ImageURL)
	}

	history, err := f.svc.History(ctx, f.tokens["Bob"], f.id("Alice"), domain.PageQuery{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, m := range history {
		require.Nil(t, m.ImageURL)
	}

	sent, err := f.svc.Send(ctx, f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), ImageURL: lo.ToPtr("  https://cdn.example.com/cat.png ")})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/cat.png", *sent.ImageURL)
}

func TestMessageService_PersistsBeforePublish(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t)

	publisher := mocks.NewMockPublisher(ctrl)
	f.svc.publisher = publisher

	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, evt bus.Event) error {
			stored, err := f.store.Messages().GetByID(ctx, evt.Message.MessageID)
			require.NoError(t, err)
			require.NotNil(t, stored, "event published before the message was stored")
			return nil
		}).
		Times(1)

	f.send(t, "Alice", "Bob", "durable first")
}

func TestMessageService_PublishFailureDoesNotFailSend(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	f := newFixture(t)

	publisher := mocks.NewMockPublisher(ctrl)
	f.svc.publisher = publisher
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("redis down")).Times(1)

	sent := f.send(t, "Alice", "Bob", "still stored")

	history, err := f.svc.History(ctx, f.tokens["Alice"], f.id("Bob"), domain.PageQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, sent.ID, history[0].ID)
}

func TestMessageService_OriginConnectionIsSkipped(t *testing.T) {
	f := newFixture(t)
	phone, laptop := f.subscribe("Alice"), f.subscribe("Alice")
	bobSub := f.subscribe("Bob")

	ctx := bus.WithOrigin(context.Background(), phone.ID())
	_, err := f.svc.Send(ctx, f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Body: "from phone"})
	require.NoError(t, err)

	require.Equal(t, "from phone", nextEvent(t, laptop).Message.Body)
	require.Equal(t, "from phone", nextEvent(t, bobSub).Message.Body)
	require.Len(t, phone.Events(), 0)
}

func TestMessageService_HistoryOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Same timestamp for every message: order falls back to id.
	first := f.send(t, "Alice", "Bob", "one")
	f.send(t, "Alice", "Carol", "noise")
	second := f.send(t, "Bob", "Alice", "two")
	f.send(t, "Carol", "Alice", "more noise")
	third := f.send(t, "Alice", "Bob", "three")

	history, err := f.svc.History(ctx, f.tokens["Alice"], f.id("Bob"), domain.PageQuery{})
	require.NoError(t, err)
	require.Equal(t,
		[]string{first.ID, second.ID, third.ID},
		lo.Map(history, func(m domain.EnrichedMessage, _ int) string { return m.ID }))
	require.Equal(t, []string{"Alice", "Bob", "Alice"},
		lo.Map(history, func(m domain.EnrichedMessage, _ int) string { return m.SenderName }))

	t.Run("should page backwards from a cursor", func(t *testing.T) {
		page, err := f.svc.History(ctx, f.tokens["Bob"], f.id("Alice"), domain.PageQuery{Before: third.ID, Limit: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, second.ID, page[0].ID)
	})

	t.Run("should fail for an unknown counterpart", func(t *testing.T) {
		_, err := f.svc.History(ctx, f.tokens["Alice"], uuid.New(), domain.PageQuery{})
		require.ErrorIs(t, err, domain.ErrUserNotFound)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMessageService_Remove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	aliceSub := f.subscribe("Alice")

	sent := f.send(t, "Alice", "Bob", "hi")
	nextEvent(t, aliceSub)

	t.Run("should refuse a user outside the conversation", func(t *testing.T) {
		err := f.svc.Remove(ctx, f.tokens["Carol"], sent.ID)
		require.ErrorIs(t, err, domain.ErrNotParticipant)
		require.ErrorIs(t, err, domain.ErrPermission)
	})

	t.Run("should let the receiver delete", func(t *testing.T) {
		require.NoError(t, f.svc.Remove(ctx, f.tokens["Bob"], sent.ID))

		for _, viewer := range []string{"Alice", "Bob"} {
			other := lo.Ternary(viewer == "Alice", "Bob", "Alice")
			history, err := f.svc.History(ctx, f.tokens[viewer], f.id(other), domain.PageQuery{})
			require.NoError(t, err)
			require.Empty(t, history)
		}

		evt := nextEvent(t, aliceSub)
		require.Equal(t, bus.EventMessageDeleted, evt.Type)
		require.Equal(t, sent.ID, evt.Deleted.MessageID)
		require.Equal(t, f.id("Bob"), evt.Deleted.DeletedBy)
	})

	t.Run("should report not found on a repeated delete", func(t *testing.T) {
		err := f.svc.Remove(ctx, f.tokens["Alice"], sent.ID)
		require.ErrorIs(t, err, domain.ErrMessageNotFound)
	})

	t.Run("should require an id", func(t *testing.T) {
		require.ErrorIs(t, f.svc.Remove(ctx, f.tokens["Alice"], ""), domain.ErrMissingMessageID)
	})
}

func TestMessageService_ConversationList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.now = f.now.Add(2 * time.Minute)
	f.send(t, "Alice", "Bob", "at t2")
	f.now = f.now.Add(3 * time.Minute)
	f.send(t, "Carol", "Alice", "at t5")
	require.NoError(t, f.store.Presence().SetOnline(ctx, f.id("Bob")))

	list, err := f.svc.ConversationList(ctx, f.tokens["Alice"])
	require.NoError(t, err)
	require.Equal(t, []string{"Carol", "Bob", "Dave"},
		lo.Map(list, func(c domain.ConversationSummary, _ int) string { return c.Counterpart.Name }))

	require.Equal(t, "at t5", list[0].LastMessage.Body)
	require.Equal(t, f.id("Carol"), list[0].LastMessage.SenderID)
	require.True(t, list[1].Counterpart.Online)
	require.False(t, list[0].Counterpart.Online)
	require.Nil(t, list[2].LastMessage)
	require.Nil(t, list[2].LastMessageAt)
}

func TestMessageService_ImageUpload(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	store := mocks.NewMockStore(ctrl)
	f := newFixture(t, WithBlobStore(store, 1024))

	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52}

	t.Run("should store the uploaded image uri", func(t *testing.T) {
		store.EXPECT().
			Put(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, obj blob.Object) (string, error) {
				require.Equal(t, "image/png", obj.ContentType)
				return "https://cdn.example.com/" + obj.Key, nil
			}).
			Times(1)

		msg, err := f.svc.Send(ctx, f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Image: png})
		require.NoError(t, err)
		require.True(t, msg.HasImage())
		require.Empty(t, msg.Body)
	})

	t.Run("should reject non image bytes without uploading", func(t *testing.T) {
		store.EXPECT().Put(gomock.Any(), gomock.Any()).Times(0)

		_, err := f.svc.Send(ctx, f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Image: []byte("plain text")})
		require.ErrorIs(t, err, blob.ErrNotAnImage)
		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("should surface a blob outage as a storage error", func(t *testing.T) {
		store.EXPECT().Put(gomock.Any(), gomock.Any()).Return("", errors.New("minio unreachable")).Times(1)

		_, err := f.svc.Send(ctx, f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Image: png})
		require.ErrorIs(t, err, domain.ErrStorage)
	})
}

func TestMessageService_UploadsDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Image: []byte{1, 2, 3}})
	require.ErrorIs(t, err, ErrUploadsDisabled)
}

func TestMessageService_StorageAndTimeoutErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	f := newFixture(t)

	messages := mocks.NewMockMessageRepository(ctrl)
	publisher := mocks.NewMockPublisher(ctrl)
	f.svc.messages = messages
	f.svc.publisher = publisher
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	t.Run("should map a driver failure to a storage error", func(t *testing.T) {
		cause := errors.New("connection refused")
		messages.EXPECT().Append(gomock.Any(), gomock.Any()).Return(cause).Times(1)

		_, err := f.svc.Send(ctx, f.tokens["Alice"], SendInput{ReceiverID: f.id("Bob"), Body: "hi"})
		require.ErrorIs(t, err, domain.ErrStorage)
		require.ErrorIs(t, err, cause)
	})

	t.Run("should map an expired deadline to a timeout", func(t *testing.T) {
		f.svc.timeout = 10 * time.Millisecond
		messages.EXPECT().
			ListConversation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _, _ uuid.UUID, _ domain.PageQuery) ([]domain.Message, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}).
			Times(1)

		_, err := f.svc.History(ctx, f.tokens["Alice"], f.id("Bob"), domain.PageQuery{})
		require.ErrorIs(t, err, domain.ErrTimeout)
	})
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))
	require.Equal(t, domain.ErrNotParticipant, classify(domain.ErrNotParticipant))
	require.ErrorIs(t, classify(context.DeadlineExceeded), domain.ErrTimeout)
	require.ErrorIs(t, classify(errors.New("boom")), domain.ErrStorage)
}
