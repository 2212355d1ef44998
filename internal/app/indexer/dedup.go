package indexer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/messaging"
)

// Deduper remembers which messages a subscription has already applied.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type RedisDeduper struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{Client: client, TTL: ttl, Prefix: "indexer:processed:"}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.Client.Exists(ctx, d.Prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records key. A key that is already present is left with its TTL.
func (d *RedisDeduper) Mark(ctx context.Context, key string) error {
	return d.Client.SetNX(ctx, d.Prefix+key, time.Now().UTC().Format(time.RFC3339), d.TTL).Err()
}

// withDedup skips deliveries already applied for subscription. Redis errors
// are logged and the message is processed anyway; upserts are idempotent so
// the worst case is repeated work.
func withDedup(dedup Deduper, subscription string, logger *log.Entry, next messaging.HandlerFunc) messaging.HandlerFunc {
	if dedup == nil {
		return next
	}
	return func(ctx context.Context, d messaging.Delivery) error {
		if d.ID == "" {
			return next(ctx, d)
		}
		key := subscription + ":" + d.ID
		seen, err := dedup.Seen(ctx, key)
		if err != nil {
			logger.WithField("error", err).WithField("message_id", d.ID).Warn("dedup lookup failed")
		} else if seen {
			logger.WithField("message_id", d.ID).Debug("message already applied")
			return nil
		}

		if err := next(ctx, d); err != nil {
			return err
		}
		if err := dedup.Mark(ctx, key); err != nil {
			logger.WithField("error", err).WithField("message_id", d.ID).Warn("dedup mark failed")
		}
		return nil
	}
}
