package users

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

const cachePrefix = "notify:user:"

// Cache serves lookups from Redis and fills it on a miss. Redis errors fall through to next.
// Not-found answers are not cached so a freshly registered user resolves on the next record.
// A Cache without a client passes every lookup through.
type Cache struct {
	next   Lookup
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(next Lookup, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(id Identifier) string {
	return cachePrefix + string(id.Kind) + ":" + id.Value
}

func (c *Cache) ResolveUser(ctx context.Context, id Identifier) (User, error) {
	if c.rdb == nil {
		return c.next.ResolveUser(ctx, id)
	}
	key := cacheKey(id)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u User
		if jsonErr := json.Unmarshal(raw, &u); jsonErr == nil && u.Email != "" {
			return u, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("user cache read failed", "err", err)
	}

	u, err := c.next.ResolveUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if u.Email != "" {
		if raw, err := json.Marshal(u); err == nil {
			if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				c.logger.Warn("user cache write failed", "err", err)
			}
		}
	}
	return u, nil
}

// Invalidate drops cached entries for a user that changed or was removed.
func (c *Cache) Invalidate(ctx context.Context, ids ...Identifier) error {
	if c.rdb == nil {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if !id.IsZero() {
			keys = append(keys, cacheKey(id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
