package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/service"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// MessageSender is the part of the message service the socket can call.
type MessageSender interface {
	Send(ctx context.Context, credential string, in service.SendInput) (*domain.Message, error)
}

// PresenceTracker is told when a user's first connection opens and last closes.
type PresenceTracker interface {
	Connected(ctx context.Context, userID uuid.UUID) error
	Disconnected(ctx context.Context, userID uuid.UUID) error
}

type Options struct {
	// SendRate and SendBurst bound message.send per connection.
	SendRate  float64
	SendBurst int
}

// Hub accepts WebSocket connections and attaches each one to the delivery bus.
type Hub struct {
	bus      *bus.Bus
	resolver identity.Resolver
	messages MessageSender
	presence PresenceTracker
	opts     Options
	log      *slog.Logger

	mu    sync.Mutex
	users map[uuid.UUID]*userConns
}

// userConns counts one user's connections on this process. Its mutex is held
// across a count change and the matching presence write, so the online and
// offline writes for a user land in the order the connections changed.
type userConns struct {
	mu    sync.Mutex
	count int // guarded by Hub.mu
	refs  int // guarded by Hub.mu
}

func NewHub(b *bus.Bus, resolver identity.Resolver, messages MessageSender, presence PresenceTracker, opts Options, log *slog.Logger) *Hub {
	if opts.SendRate <= 0 {
		opts.SendRate = 5
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 10
	}
	return &Hub{
		bus:      b,
		resolver: resolver,
		messages: messages,
		presence: presence,
		opts:     opts,
		log:      log,
		users:    make(map[uuid.UUID]*userConns),
	}
}

// ServeHTTP upgrades the request and blocks until the connection ends.
// Auth is done via ?token=xxx query param (browsers can't set headers on a WebSocket).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	id, err := h.resolver.Verify(r.Context(), token)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, domain.ErrAuth) {
			status = http.StatusServiceUnavailable
			h.log.Error("WebSocket auth failed", "error", err)
		}
		http.Error(w, domain.Code(err), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin (dev mode)
	})
	if err != nil {
		h.log.Warn("WebSocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sub := h.bus.Subscribe()
	sub.Announce(id.UserID)
	h.connected(r.Context(), id.UserID)
	h.log.Info("Client connected", "user_id", id.UserID, "subscription_id", sub.ID())

	client := newClient(h, conn, sub, id, token)
	client.run(r.Context())

	h.bus.Unsubscribe(sub)
	h.disconnected(id.UserID)
	h.log.Info("Client disconnected", "user_id", id.UserID, "subscription_id", sub.ID())
}

// Online reports how many live connections userID has on this process.
func (h *Hub) Online(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if uc, ok := h.users[userID]; ok {
		return uc.count
	}
	return 0
}

func (h *Hub) lockUser(userID uuid.UUID) *userConns {
	h.mu.Lock()
	uc, ok := h.users[userID]
	if !ok {
		uc = &userConns{}
		h.users[userID] = uc
	}
	uc.refs++
	h.mu.Unlock()

	uc.mu.Lock()
	return uc
}

func (h *Hub) unlockUser(userID uuid.UUID, uc *userConns) {
	h.mu.Lock()
	uc.refs--
	if uc.refs == 0 && uc.count == 0 {
		delete(h.users, userID)
	}
	h.mu.Unlock()
	uc.mu.Unlock()
}

// adjust changes the user's connection count and returns the new value.
func (h *Hub) adjust(uc *userConns, delta int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	uc.count = max(uc.count+delta, 0)
	return uc.count
}

func (h *Hub) connected(ctx context.Context, userID uuid.UUID) {
	uc := h.lockUser(userID)
	defer h.unlockUser(userID, uc)

	if h.adjust(uc, 1) == 1 && h.presence != nil {
		if err := h.presence.Connected(ctx, userID); err != nil {
			h.log.Warn("Failed to mark user online", "user_id", userID, "error", err)
		}
	}
}

func (h *Hub) disconnected(userID uuid.UUID) {
	uc := h.lockUser(userID)
	defer h.unlockUser(userID, uc)

	if h.adjust(uc, -1) == 0 && h.presence != nil {
		// The request context is already gone by now.
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := h.presence.Disconnected(ctx, userID); err != nil {
			h.log.Warn("Failed to record last seen", "user_id", userID, "error", err)
		}
	}
}

func (h *Hub) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(h.opts.SendRate), h.opts.SendBurst)
}
