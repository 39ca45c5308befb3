package service

import (
	"context"
	"slices"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ConversationList returns one entry per other user: the most recent
// conversations first, then users the caller never talked to, by name.
func (s *MessageService) ConversationList(ctx context.Context, credential string) ([]domain.ConversationSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	requester, err := s.resolver.Verify(ctx, credential)
	if err != nil {
		return nil, classify(err)
	}

	others, err := s.users.ListExcept(ctx, requester.UserID)
	if err != nil {
		return nil, classify(err)
	}
	latest, err := s.messages.LatestPerCounterpart(ctx, requester.UserID)
	if err != nil {
		return nil, classify(err)
	}
	lastByCounterpart := lo.KeyBy(latest, func(m domain.Message) uuid.UUID {
		return m.Counterpart(requester.UserID)
	})

	online := s.onlineSet(ctx, others)

	summaries := lo.Map(others, func(u domain.User, _ int) domain.ConversationSummary {
		summary := domain.ConversationSummary{Counterpart: u.Summary()}
		summary.Counterpart.Online = online[u.ID]
		if m, ok := lastByCounterpart[u.ID]; ok {
			summary.LastMessage = &domain.MessagePreview{
				ID:        m.ID,
				SenderID:  m.SenderID,
				Body:      m.Body,
				HasImage:  m.HasImage(),
				CreatedAt: m.CreatedAt,
			}
			summary.LastMessageAt = &m.CreatedAt
		}
		return summary
	})

	// Stable sort keeps the name order of users without messages.
	slices.SortStableFunc(summaries, compareByRecency)
	return summaries, nil
}

func compareByRecency(a, b domain.ConversationSummary) int {
	switch {
	case a.LastMessage == nil && b.LastMessage == nil:
		return 0
	case a.LastMessage == nil:
		return 1
	case b.LastMessage == nil:
		return -1
	}
	if !a.LastMessageAt.Equal(*b.LastMessageAt) {
		return b.LastMessageAt.Compare(*a.LastMessageAt)
	}
	if a.LastMessage.ID > b.LastMessage.ID {
		return -1
	}
	if a.LastMessage.ID < b.LastMessage.ID {
		return 1
	}
	return 0
}

// onlineSet is best-effort: a presence outage leaves everyone shown offline.
func (s *MessageService) onlineSet(ctx context.Context, users []domain.User) map[uuid.UUID]bool {
	if s.presence == nil || len(users) == 0 {
		return map[uuid.UUID]bool{}
	}
	ids := lo.Map(users, func(u domain.User, _ int) uuid.UUID { return u.ID })
	online, err := s.presence.Online(ctx, ids)
	if err != nil {
		s.log.Warn("Presence lookup failed", "error", err)
		return map[uuid.UUID]bool{}
	}
	return online
}
