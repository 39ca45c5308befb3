package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/repository"
	"github.com/google/uuid"
)

// PresenceService follows the connection lifecycle: connect means online, the
// last disconnect records last_seen_at.
type PresenceService struct {
	users     repository.UserRepository
	presence  repository.PresenceRepository
	publisher bus.Publisher
	log       *slog.Logger
	now       func() time.Time
}

func NewPresenceService(users repository.UserRepository, presence repository.PresenceRepository, publisher bus.Publisher, log *slog.Logger) *PresenceService {
	return &PresenceService{
		users:     users,
		presence:  presence,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

func (s *PresenceService) Connected(ctx context.Context, userID uuid.UUID) error {
	if err := s.presence.SetOnline(ctx, userID); err != nil {
		return classify(err)
	}
	s.announce(ctx, &domain.PresenceEvent{UserID: userID, Status: domain.PresenceOnline})
	return nil
}

func (s *PresenceService) Disconnected(ctx context.Context, userID uuid.UUID) error {
	at := domain.Timestamp(s.now())

	if err := s.users.TouchLastSeen(ctx, userID, at); err != nil {
		return classify(err)
	}
	if err := s.presence.SetOffline(ctx, userID, at); err != nil {
		return classify(err)
	}
	s.announce(ctx, &domain.PresenceEvent{UserID: userID, Status: domain.PresenceOffline, LastSeenAt: &at})
	return nil
}

func (s *PresenceService) announce(ctx context.Context, evt *domain.PresenceEvent) {
	err := s.publisher.Publish(context.WithoutCancel(ctx), bus.Event{Type: bus.EventPresence, Presence: evt})
	if err != nil {
		s.log.Warn("Failed to publish presence", "user_id", evt.UserID, "status", evt.Status, "error", err)
	}
}
