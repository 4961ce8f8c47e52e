package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Hejaii/animeface/config"
)

const (
	cacheKeyPrefix = "animeface:"
	pingTimeout    = 3 * time.Second
)

// Cache stores segmentation responses in redis keyed by image MD5. A Cache without a client is
// disabled: lookups miss and stores are dropped.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to redis. A disabled config or an unreachable server gives a disabled cache.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("redis cache disabled by config")
		return &Cache{logger: logger}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis connection failed, cache disabled", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = client.Close()
		return &Cache{logger: logger}
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return NewCacheWithClient(client, cfg.TTL, logger)
}

// NewCacheWithClient wraps an existing client. A nil client gives a disabled cache.
func NewCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Enabled reports whether results are cached.
func (c *Cache) Enabled() bool {
	return c.client != nil
}

// Get returns the cached response for md5, or nil on a miss.
func (c *Cache) Get(ctx context.Context, md5 string) (*SegmentResponse, error) {
	if !c.Enabled() {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKeyPrefix+md5).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "redis get")
	}

	var resp SegmentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cached result is corrupt", zap.String("md5", md5), zap.Error(err))
		return nil, errors.Wrap(err, "decode cached result")
	}
	return &resp, nil
}

// Set stores resp under its MD5.
func (c *Cache) Set(ctx context.Context, resp *SegmentResponse) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}
	return errors.Wrap(c.client.Set(ctx, cacheKeyPrefix+resp.MD5, data, c.ttl).Err(), "redis set")
}

// Close closes the redis client.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
