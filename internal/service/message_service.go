package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/848838/ChatApp/internal/blob"
	"github.com/848838/ChatApp/internal/bus"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/repository"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultTimeout  = 5 * time.Second
	MaxHistoryLimit = 200
)

var ErrUploadsDisabled = fmt.Errorf("%w: image uploads are not enabled", domain.ErrValidation)

// MessageService sends, lists and deletes direct messages. It keeps no state of
// its own: the message store is the source of truth and the publisher is a
// best-effort real-time hint.
type MessageService struct {
	users     repository.UserRepository
	messages  repository.MessageRepository
	presence  repository.PresenceRepository
	resolver  identity.Resolver
	publisher bus.Publisher
	blobs     blob.Store
	log       *slog.Logger

	timeout       time.Duration
	maxImageBytes int64
}

type MessageOption func(*MessageService)

func WithTimeout(d time.Duration) MessageOption {
	return func(s *MessageService) { s.timeout = d }
}

func WithBlobStore(store blob.Store, maxBytes int64) MessageOption {
	return func(s *MessageService) {
		s.blobs = store
		s.maxImageBytes = maxBytes
	}
}

// WithPresence adds the online flag to conversation list entries.
func WithPresence(p repository.PresenceRepository) MessageOption {
	return func(s *MessageService) { s.presence = p }
}

func NewMessageService(
	users repository.UserRepository,
	messages repository.MessageRepository,
	resolver identity.Resolver,
	publisher bus.Publisher,
	log *slog.Logger,
	opts ...MessageOption,
) *MessageService {
	s := &MessageService{
		users:     users,
		messages:  messages,
		resolver:  resolver,
		publisher: publisher,
		log:       log,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SendInput struct {
	ReceiverID uuid.UUID
	Body       string
	// ImageURL references an image that is already stored somewhere.
	ImageURL *string
	// Image holds raw bytes to upload. Mutually exclusive with ImageURL.
	Image []byte
}

// Send stores a message from the caller and then publishes it. The publish
// happens only after the store accepted the message; a failed publish is
// logged and does not fail the send.
func (s *MessageService) Send(ctx context.Context, credential string, in SendInput) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sender, err := s.resolver.Verify(ctx, credential)
	if err != nil {
		return nil, classify(err)
	}

	in.ImageURL = normalizeImageURL(in.ImageURL)
	if len(in.Image) > 0 && in.ImageURL != nil {
		return nil, domain.ErrAmbiguousImage
	}

	msg := &domain.Message{
		SenderID:   sender.UserID,
		ReceiverID: in.ReceiverID,
		Body:       in.Body,
		ImageURL:   in.ImageURL,
	}
	if err := validateDraft(*msg, len(in.Image) > 0); err != nil {
		return nil, err
	}

	receiver, err := s.users.GetByID(ctx, in.ReceiverID)
	if err != nil {
		return nil, classify(err)
	}
	if receiver == nil {
		return nil, domain.ErrUnknownUser
	}

	if len(in.Image) > 0 {
		uri, err := s.upload(ctx, in.Image)
		if err != nil {
			return nil, err
		}
		msg.ImageURL = &uri
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, classify(err)
	}

	evt := bus.Event{
		Type:    bus.EventMessageNew,
		Origin:  bus.OriginFromContext(ctx),
		Message: domain.NewDeliveryEvent(msg, sender.Name, sender.AvatarURL),
	}
	s.publish(ctx, evt, "message_id", msg.ID)

	return msg, nil
}

// History returns the caller's conversation with counterpartID, oldest first,
// with each sender's current name and avatar.
func (s *MessageService) History(ctx context.Context, credential string, counterpartID uuid.UUID, page domain.PageQuery) ([]domain.EnrichedMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	requester, err := s.resolver.Verify(ctx, credential)
	if err != nil {
		return nil, classify(err)
	}
	if counterpartID == uuid.Nil {
		return nil, domain.ErrMissingReceiver
	}

	counterpart, err := s.users.GetByID(ctx, counterpartID)
	if err != nil {
		return nil, classify(err)
	}
	if counterpart == nil {
		return nil, domain.ErrUserNotFound
	}

	if page.Limit < 0 {
		page.Limit = 0
	}
	page.Limit = min(page.Limit, MaxHistoryLimit)

	msgs, err := s.messages.ListConversation(ctx, requester.UserID, counterpartID, page)
	if err != nil {
		return nil, classify(err)
	}

	return s.enrich(ctx, msgs)
}

// Remove hard-deletes a message. Either participant may delete it.
func (s *MessageService) Remove(ctx context.Context, credential, messageID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	requester, err := s.resolver.Verify(ctx, credential)
	if err != nil {
		return classify(err)
	}
	if messageID == "" {
		return domain.ErrMissingMessageID
	}

	removed, err := s.messages.DeleteByID(ctx, messageID, requester.UserID)
	if err != nil {
		return classify(err)
	}

	s.publish(ctx, bus.Event{
		Type:   bus.EventMessageDeleted,
		Origin: bus.OriginFromContext(ctx),
		Deleted: &domain.DeletionEvent{
			MessageID:  removed.ID,
			SenderID:   removed.SenderID,
			ReceiverID: removed.ReceiverID,
			DeletedBy:  requester.UserID,
		},
	}, "message_id", removed.ID)

	return nil
}

func (s *MessageService) enrich(ctx context.Context, msgs []domain.Message) ([]domain.EnrichedMessage, error) {
	if len(msgs) == 0 {
		return []domain.EnrichedMessage{}, nil
	}

	senderIDs := lo.Uniq(lo.Map(msgs, func(m domain.Message, _ int) uuid.UUID { return m.SenderID }))
	senders, err := s.users.ListByIDs(ctx, senderIDs)
	if err != nil {
		return nil, classify(err)
	}
	byID := lo.KeyBy(senders, func(u domain.User) uuid.UUID { return u.ID })

	return lo.Map(msgs, func(m domain.Message, _ int) domain.EnrichedMessage {
		out := domain.EnrichedMessage{Message: m, SenderName: domain.UnknownSenderName}
		if u, ok := byID[m.SenderID]; ok {
			out.SenderName = u.Name
			out.SenderAvatarURL = u.AvatarURL
		}
		return out
	}), nil
}

func (s *MessageService) upload(ctx context.Context, data []byte) (string, error) {
	if s.blobs == nil {
		return "", ErrUploadsDisabled
	}
	obj, err := blob.NewImage(data, s.maxImageBytes)
	if err != nil {
		return "", err
	}
	uri, err := s.blobs.Put(ctx, obj)
	if err != nil {
		return "", classify(err)
	}
	return uri, nil
}

// publish runs detached from the request deadline: once a message is stored,
// its event goes out even if the caller has already gone away.
func (s *MessageService) publish(ctx context.Context, evt bus.Event, attrs ...any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.log.Warn("Failed to publish event", append([]any{"type", evt.Type, "error", err}, attrs...)...)
	}
}

// validateDraft checks a message before any upload happens. pendingImage
// stands in for bytes that will become the image reference.
func validateDraft(msg domain.Message, pendingImage bool) error {
	if pendingImage {
		placeholder := "pending"
		msg.ImageURL = &placeholder
	}
	return msg.Validate()
}

// classify maps collaborator failures onto the error taxonomy. Errors that
// already carry a kind pass through untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.Kind(err) != nil:
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}

// normalizeImageURL trims a client supplied image reference; a blank one is absent.
func normalizeImageURL(url *string) *string {
	if url == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*url)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
