package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	id "fraudengine/pkg/domain"
)

const redisKeyPrefix = "fraudengine:roles:"

// RedisCachedDirectory shares role answers across replicas through Redis.
// Redis failures fall through to the wrapped directory.
type RedisCachedDirectory struct {
	next   RoleDirectory
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCachedDirectory(next RoleDirectory, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisCachedDirectory {
	return &RedisCachedDirectory{next: next, client: client, ttl: ttl, logger: logger}
}

func (d *RedisCachedDirectory) HasRole(ctx context.Context, userID id.UserID, role Role) (bool, error) {
	key := redisKey(userID, role)
	val, err := d.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case !errors.Is(err, redis.Nil):
		d.warn(ctx, "role cache read failed", key, err)
	}

	granted, err := d.next.HasRole(ctx, userID, role)
	if err != nil {
		return false, err
	}
	v := "0"
	if granted {
		v = "1"
	}
	if err := d.client.Set(ctx, key, v, d.ttl).Err(); err != nil {
		d.warn(ctx, "role cache write failed", key, err)
	}
	return granted, nil
}

// Invalidate drops the cached answer for one grant.
func (d *RedisCachedDirectory) Invalidate(ctx context.Context, userID id.UserID, role Role) error {
	if err := d.client.Del(ctx, redisKey(userID, role)).Err(); err != nil {
		return fmt.Errorf("invalidate role cache: %w", err)
	}
	return nil
}

func (d *RedisCachedDirectory) warn(ctx context.Context, msg, key string, err error) {
	if d.logger != nil {
		d.logger.WarnContext(ctx, msg, "key", key, "error", err)
	}
}

func redisKey(userID id.UserID, role Role) string {
	return redisKeyPrefix + string(role) + ":" + userID.String()
}
