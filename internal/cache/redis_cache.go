package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sentPrefix    = "postcard:sent:"
	inboundPrefix = "postcard:inbound:"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	MessageHandle string    `json:"messageHandle"`
	SentAt        time.Time `json:"sentAt"`
}

func (c *RedisCache) StoreSent(ctx context.Context, postcardID, messageHandle string, sentAt time.Time) error {
	val := sentValue{
		MessageHandle: messageHandle,
		SentAt:        sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentPrefix+postcardID, b, c.ttl).Err()
}

func (c *RedisCache) MarkInbound(ctx context.Context, messageHandle string) (bool, error) {
	return c.rdb.SetNX(ctx, inboundPrefix+messageHandle, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
}

func (c *RedisCache) ReleaseInbound(ctx context.Context, messageHandle string) error {
	return c.rdb.Del(ctx, inboundPrefix+messageHandle).Err()
}
