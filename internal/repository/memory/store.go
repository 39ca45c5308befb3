// Package memory is an in-process store for local development and tests.
// It satisfies the same contracts as the postgres repositories.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/repository"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	_ repository.UserRepository     = (*UserRepo)(nil)
	_ repository.MessageRepository  = (*MessageRepo)(nil)
	_ repository.PresenceRepository = (*PresenceRepo)(nil)
)

// Store holds the shared state behind the user, message and presence repos so
// message appends can check that both participants exist.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]domain.User
	messages []domain.Message
	online   map[uuid.UUID]bool
	now      func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used to stamp new messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		users:  make(map[uuid.UUID]domain.User),
		online: make(map[uuid.UUID]bool),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type UserRepo struct{ *Store }

type MessageRepo struct{ *Store }

type PresenceRepo struct{ *Store }

func (s *Store) Users() *UserRepo { return &UserRepo{s} }

func (s *Store) Messages() *MessageRepo { return &MessageRepo{s} }

func (s *Store) Presence() *PresenceRepo { return &PresenceRepo{s} }

// --- users ---

func (s *UserRepo) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return domain.ErrEmailTaken
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := lo.Find(lo.Values(s.users), func(u domain.User) bool {
		return strings.EqualFold(u.Email, email)
	})
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.FilterMap(lo.Uniq(ids), func(id uuid.UUID, _ int) (domain.User, bool) {
		u, ok := s.users[id]
		return u, ok
	}), nil
}

func (s *UserRepo) ListExcept(_ context.Context, id uuid.UUID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := lo.Filter(lo.Values(s.users), func(u domain.User, _ int) bool { return u.ID != id })
	slices.SortFunc(users, func(a, b domain.User) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return users, nil
}

func (s *UserRepo) TouchLastSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil
	}
	at = domain.Timestamp(at)
	u.LastSeenAt = &at
	s.users[id] = u
	return nil
}

// --- messages ---

func (s *MessageRepo) Append(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = domain.Timestamp(s.now())
	}
	if msg.ID == "" {
		msg.ID = domain.NewMessageID(msg.CreatedAt)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, ok := s.users[msg.SenderID]; !ok {
		return domain.ErrUnknownUser
	}
	if _, ok := s.users[msg.ReceiverID]; !ok {
		return domain.ErrUnknownUser
	}
	if lo.ContainsBy(s.messages, func(m domain.Message) bool { return m.ID == msg.ID }) {
		return fmt.Errorf("message %s already exists", msg.ID)
	}

	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MessageRepo) GetByID(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := lo.Find(s.messages, func(m domain.Message) bool { return m.ID == id })
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MessageRepo) ListConversation(_ context.Context, userA, userB uuid.UUID, page domain.PageQuery) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := lo.Filter(s.messages, func(m domain.Message, _ int) bool {
		return m.Involves(userA) && m.Involves(userB) && userA != userB
	})
	sortMessages(conv)

	if page.Before != "" {
		idx := slices.IndexFunc(conv, func(m domain.Message) bool { return m.ID == page.Before })
		if idx < 0 {
			return []domain.Message{}, nil
		}
		conv = conv[:idx]
	}
	if page.Limit > 0 && len(conv) > page.Limit {
		conv = conv[len(conv)-page.Limit:]
	}
	return conv, nil
}

func (s *MessageRepo) DeleteByID(_ context.Context, id string, requesterID uuid.UUID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.messages, func(m domain.Message) bool { return m.ID == id })
	if idx < 0 {
		return nil, domain.ErrMessageNotFound
	}
	msg := s.messages[idx]
	if !msg.Involves(requesterID) {
		return nil, domain.ErrNotParticipant
	}
	s.messages = slices.Delete(s.messages, idx, idx+1)
	return &msg, nil
}

func (s *MessageRepo) LatestPerCounterpart(_ context.Context, userID uuid.UUID) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[uuid.UUID]domain.Message)
	for _, m := range s.messages {
		if !m.Involves(userID) {
			continue
		}
		other := m.Counterpart(userID)
		if cur, ok := latest[other]; !ok || cur.Before(&m) {
			latest[other] = m
		}
	}
	out := lo.Values(latest)
	sortMessages(out)
	return out, nil
}

// --- presence ---

func (s *PresenceRepo) SetOnline(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = true
	return nil
}

func (s *PresenceRepo) SetOffline(_ context.Context, userID uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
	return nil
}

func (s *PresenceRepo) Online(_ context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.SliceToMap(userIDs, func(id uuid.UUID) (uuid.UUID, bool) {
		return id, s.online[id]
	}), nil
}

func sortMessages(msgs []domain.Message) {
	slices.SortStableFunc(msgs, func(a, b domain.Message) int {
		switch {
		case a.Before(&b):
			return -1
		case b.Before(&a):
			return 1
		}
		return 0
	})
}
