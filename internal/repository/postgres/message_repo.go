package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

const messageColumns = `id, sender_id, receiver_id, body, image_url, created_at`

type MessageRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool, now: time.Now}
}

func (r *MessageRepo) Append(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = domain.Timestamp(r.now())
	}
	if msg.ID == "" {
		msg.ID = domain.NewMessageID(msg.CreatedAt)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Body, msg.ImageURL, msg.CreatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return domain.ErrUnknownUser
		case pgCheckViolation:
			return fmt.Errorf("%w: %s", domain.ErrValidation, pgErr.ConstraintName)
		}
	}
	return err
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (r *MessageRepo) ListConversation(ctx context.Context, userA, userB uuid.UUID, page domain.PageQuery) ([]domain.Message, error) {
	lo, hi := domain.ConversationKey(userA, userB)

	var query string
	args := []any{lo, hi}

	switch {
	case page.Before != "":
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE LEAST(sender_id, receiver_id) = $1 AND GREATEST(sender_id, receiver_id) = $2
				AND (created_at, id) < (
					SELECT created_at, id FROM messages
					WHERE id = $3 AND LEAST(sender_id, receiver_id) = $1 AND GREATEST(sender_id, receiver_id) = $2
				)
			ORDER BY created_at DESC, id DESC`
		args = append(args, page.Before)
	case page.Limit > 0:
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE LEAST(sender_id, receiver_id) = $1 AND GREATEST(sender_id, receiver_id) = $2
			ORDER BY created_at DESC, id DESC`
	default:
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE LEAST(sender_id, receiver_id) = $1 AND GREATEST(sender_id, receiver_id) = $2
			ORDER BY created_at ASC, id ASC`
	}
	if page.Limit > 0 {
		query += fmt.Sprintf("\n\t\t\tLIMIT %d", page.Limit)
	}

	messages, err := r.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Paged queries come back newest first.
	if page.Before != "" || page.Limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

func (r *MessageRepo) DeleteByID(ctx context.Context, id string, requesterID uuid.UUID) (*domain.Message, error) {
	query := `
		DELETE FROM messages
		WHERE id = $1 AND (sender_id = $2 OR receiver_id = $2)
		RETURNING ` + messageColumns
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id, requesterID))
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrNotParticipant
	}
	return nil, domain.ErrMessageNotFound
}

func (r *MessageRepo) LatestPerCounterpart(ctx context.Context, userID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT DISTINCT ON (LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id))
				` + messageColumns + `
			FROM messages
			WHERE sender_id = $1 OR receiver_id = $1
			ORDER BY LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id), created_at DESC, id DESC
		) latest
		ORDER BY created_at ASC, id ASC`
	return r.queryMessages(ctx, query, userID)
}

func (r *MessageRepo) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.ImageURL, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}
