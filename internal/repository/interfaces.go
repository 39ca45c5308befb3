//go:generate go run go.uber.org/mock/mockgen -source=interfaces.go -destination=../mocks/mock_repository.go -package=mocks

package repository

import (
	"context"
	"time"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/google/uuid"
)

// UserRepository lookups return (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
	ListExcept(ctx context.Context, id uuid.UUID) ([]domain.User, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MessageRepository is the durable, append-only message store.
type MessageRepository interface {
	// Append assigns an id and timestamp when absent and stores msg.
	// It fails with domain.ErrValidation when msg breaks an invariant or names
	// a user that does not exist.
	Append(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// ListConversation returns the messages exchanged by the unordered pair,
	// oldest first, ordered by (created_at, id).
	ListConversation(ctx context.Context, userA, userB uuid.UUID, page domain.PageQuery) ([]domain.Message, error)
	// DeleteByID removes the message when requesterID is one of its participants
	// and returns what was removed.
	DeleteByID(ctx context.Context, id string, requesterID uuid.UUID) (*domain.Message, error)
	// LatestPerCounterpart returns, for each user userID has talked to, the most
	// recent message of that conversation.
	LatestPerCounterpart(ctx context.Context, userID uuid.UUID) ([]domain.Message, error)
}

// PresenceRepository keeps the best-effort online marker.
type PresenceRepository interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID, at time.Time) error
	Online(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}
