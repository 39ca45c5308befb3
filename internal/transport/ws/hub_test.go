package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/repository/memory"
	"github.com/848838/ChatApp/internal/service"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const testSecret = "ws-test-secret"

type harness struct {
	server *httptest.Server
	store  *memory.Store
	hub    *Hub
	users  map[string]*domain.User
	tokens map[string]string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	store := memory.New()
	b := bus.New(log, 32)
	resolver := identity.NewJWTResolver(testSecret, store.Users())
	issuer := identity.NewIssuer(testSecret, time.Hour)

	h := &harness{store: store, users: map[string]*domain.User{}, tokens: map[string]string{}}
	for _, name := range []string{"Alice", "Bob"} {
		u := &domain.User{ID: uuid.New(), Email: strings.ToLower(name) + "@example.com", Name: name}
		require.NoError(t, store.Users().Create(context.Background(), u))
		tok, err := issuer.Issue(u.ID)
		require.NoError(t, err)
		h.users[name], h.tokens[name] = u, tok
	}

	messages := service.NewMessageService(store.Users(), store.Messages(), resolver, b, log)
	presence := service.NewPresenceService(store.Users(), store.Presence(), b, log)
	h.hub = NewHub(b, resolver, messages, presence, opts, log)
	h.server = httptest.NewServer(h.hub)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before := h.hub.Online(h.users[name].ID)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=" + h.tokens[name]
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Wait until the hub has registered the connection.
	require.Eventually(t, func() bool { return h.hub.Online(h.users[name].ID) > before }, time.Second, 5*time.Millisecond)
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	evt, err := NewEvent(eventType, payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, evt))
}

// readUntil skips events of other types, e.g. presence noise.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var evt Event
		require.NoError(t, wsjson.Read(ctx, conn, &evt))
		if evt.Type == eventType {
			return evt
		}
	}
}

func TestHub_SendOverSocket(t *testing.T) {
	h := newHarness(t, Options{})
	bob := h.dial(t, "Bob")
	alicePhone := h.dial(t, "Alice")
	aliceLaptop := h.dial(t, "Alice")

	sendEvent(t, alicePhone, EventTypeMessageSend, MessageSendPayload{
		ReceiverID: h.users["Bob"].ID,
		Body:       "hello over ws",
		Nonce:      "n-1",
	})

	ack := readUntil(t, alicePhone, EventTypeMessageSent)
	var sent MessageSentPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))
	require.Equal(t, "n-1", sent.Nonce)
	require.Equal(t, "hello over ws", sent.Message.Body)

	for _, conn := range []*websocket.Conn{bob, aliceLaptop} {
		evt := readUntil(t, conn, EventTypeMessageNew)
		var delivered domain.DeliveryEvent
		require.NoError(t, json.Unmarshal(evt.Payload, &delivered))
		require.Equal(t, sent.Message.ID, delivered.MessageID)
		require.Equal(t, "Alice", delivered.SenderName)
	}

	stored, err := h.store.Messages().GetByID(context.Background(), sent.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestHub_SendErrorsComeBackAsEvents(t *testing.T) {
	h := newHarness(t, Options{SendRate: 0.001, SendBurst: 1})
	alice := h.dial(t, "Alice")

	sendEvent(t, alice, EventTypeMessageSend, MessageSendPayload{ReceiverID: h.users["Bob"].ID, Nonce: "empty"})
	evt := readUntil(t, alice, EventTypeError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	require.Equal(t, "VALIDATION_ERROR", p.Code)
	require.Equal(t, "empty", p.Nonce)

	sendEvent(t, alice, EventTypeMessageSend, MessageSendPayload{ReceiverID: h.users["Bob"].ID, Body: "too soon", Nonce: "fast"})
	evt = readUntil(t, alice, EventTypeError)
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	require.Equal(t, "RATE_LIMITED", p.Code)

	sendEvent(t, alice, "typing.start", struct{}{})
	evt = readUntil(t, alice, EventTypeError)
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	require.Equal(t, "UNKNOWN_EVENT", p.Code)
}

func TestHub_PingPong(t *testing.T) {
	h := newHarness(t, Options{})
	alice := h.dial(t, "Alice")

	sendEvent(t, alice, EventTypePing, struct{}{})
	require.Equal(t, EventTypePong, readUntil(t, alice, EventTypePong).Type)
}

func TestHub_PresenceLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	bob := h.dial(t, "Bob")
	alice := h.dial(t, "Alice")

	evt := readUntil(t, bob, EventTypePresence)
	var p domain.PresenceEvent
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	require.Equal(t, h.users["Alice"].ID, p.UserID)
	require.Equal(t, domain.PresenceOnline, p.Status)

	require.NoError(t, alice.Close(websocket.StatusNormalClosure, "bye"))

	evt = readUntil(t, bob, EventTypePresence)
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	require.Equal(t, domain.PresenceOffline, p.Status)
	require.NotNil(t, p.LastSeenAt)

	require.Eventually(t, func() bool {
		u, err := h.store.Users().GetByID(context.Background(), h.users["Alice"].ID)
		return err == nil && u.LastSeenAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestHub_RejectsBadToken(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=nope"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// recordingTracker logs presence calls; Disconnected blocks until release is closed.
type recordingTracker struct {
	mu      sync.Mutex
	calls   []string
	entered chan struct{}
	release chan struct{}
}

func (r *recordingTracker) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingTracker) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingTracker) Connected(context.Context, uuid.UUID) error {
	r.record("online")
	return nil
}

func (r *recordingTracker) Disconnected(context.Context, uuid.UUID) error {
	close(r.entered)
	<-r.release
	r.record("offline")
	return nil
}

func TestHub_ReconnectWaitsForPendingOffline(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelError)
	tracker := &recordingTracker{entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(bus.New(log, 8), nil, nil, tracker, Options{}, log)
	userID := uuid.New()
	ctx := context.Background()

	hub.connected(ctx, userID)
	go hub.disconnected(userID)
	<-tracker.entered

	reconnected := make(chan struct{})
	go func() {
		hub.connected(ctx, userID)
		close(reconnected)
	}()

	require.Never(t, func() bool {
		select {
		case <-reconnected:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(tracker.release)
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		require.FailNow(t, "reconnect never completed")
	}

	require.Equal(t, []string{"online", "offline", "online"}, tracker.Calls())
	require.Equal(t, 1, hub.Online(userID))
}
