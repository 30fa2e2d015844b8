package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
)

const defaultRedisKeyPrefix = "flashpoint:geocode:"

// NewRedisClient connects using a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCache shares cached placements between pipeline processes.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: defaultRedisKeyPrefix,
		logger: logger,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (model.Placement, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Placement{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis geocode cache read failed")
		return model.Placement{}, false
	}

	var p model.Placement
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis geocode cache entry is corrupt")
		return model.Placement{}, false
	}
	return p, true
}

func (c *RedisCache) Set(ctx context.Context, key string, p model.Placement) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis geocode cache write failed")
	}
}
