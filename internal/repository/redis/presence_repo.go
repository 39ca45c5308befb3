package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const onlineUsersKey = "presence:online"

func statusKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// PresenceRepo stores the online marker in Redis so every process sees the same set.
type PresenceRepo struct {
	client  *goredis.Client
	offline time.Duration
}

func NewPresenceRepo(client *goredis.Client) *PresenceRepo {
	return &PresenceRepo{client: client, offline: 24 * time.Hour}
}

func (r *PresenceRepo) SetOnline(ctx context.Context, userID uuid.UUID) error {
	now := time.Now().Unix()
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, onlineUsersKey, userID.String())
		pipe.HSet(ctx, statusKey(userID), map[string]any{
			"status":     "online",
			"updated_at": now,
		})
		pipe.Persist(ctx, statusKey(userID))
		return nil
	})
	return err
}

func (r *PresenceRepo) SetOffline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SRem(ctx, onlineUsersKey, userID.String())
		pipe.HSet(ctx, statusKey(userID), map[string]any{
			"status":     "offline",
			"last_seen":  at.Unix(),
			"updated_at": time.Now().Unix(),
		})
		pipe.Expire(ctx, statusKey(userID), r.offline)
		return nil
	})
	return err
}

func (r *PresenceRepo) Online(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(userIDs) == 0 {
		return map[uuid.UUID]bool{}, nil
	}

	members := lo.Map(userIDs, func(id uuid.UUID, _ int) any { return id.String() })
	flags, err := r.client.SMIsMember(ctx, onlineUsersKey, members...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]bool, len(userIDs))
	for i, id := range userIDs {
		out[id] = flags[i]
	}
	return out, nil
}
