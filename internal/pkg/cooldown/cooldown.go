package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown guards alert emission with Redis SET NX keys.
// A nil *Cooldown always grants.
type Cooldown struct {
	rdb    *redis.Client
	prefix string
}

// NewClient parses a redis:// URL and checks connectivity
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

func New(rdb *redis.Client) *Cooldown {
	return &Cooldown{rdb: rdb, prefix: "notif:cooldown:"}
}

// Key builds the cooldown key for one alert kind, recipient and subject
func Key(kind, recipientID, subjectID string) string {
	return fmt.Sprintf("%s:%s:%s", kind, recipientID, subjectID)
}

// Acquire returns true if no cooldown is active for key and starts one.
// Redis errors grant the acquisition; the database probe still applies.
func (c *Cooldown) Acquire(ctx context.Context, key string, ttl time.Duration) bool {
	if c == nil || c.rdb == nil {
		return true
	}

	ok, err := c.rdb.SetNX(ctx, c.prefix+key, 1, ttl).Result()
	if err != nil {
		slog.Warn("Cooldown acquire failed, allowing", "key", key, "error", err)
		return true
	}
	return ok
}

// Release drops a cooldown, used when the guarded write failed
func (c *Cooldown) Release(ctx context.Context, key string) {
	if c == nil || c.rdb == nil {
		return
	}

	if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil {
		slog.Warn("Cooldown release failed", "key", key, "error", err)
	}
}
