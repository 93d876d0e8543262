package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/pkg/model"
)

const (
	ratesKey       = "zonemarket:rates"
	leaderboardKey = "zonemarket:leaderboard"
)

// ErrCacheMiss is returned by GetJSON when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// Cache shares the latest rates and leaderboard with other processes through Redis.
// Readers must tolerate stale values.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to Redis at addr.
func NewCache(addr string, db int, password string, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewCacheWithClient(rdb, ttl, logger), nil
}

// NewCacheWithClient wraps an existing client.
func NewCacheWithClient(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{redis: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// PutRates stores the latest rate snapshot.
func (c *Cache) PutRates(ctx context.Context, snap model.RatesUpdated) error {
	if err := c.SetJSON(ctx, ratesKey, snap, c.ttl); err != nil {
		c.logger.Warn("store.cache.put_rates_failed", zap.Error(err))
		return err
	}
	return nil
}

// GetRates returns the cached rate snapshot, or nil when none is cached.
func (c *Cache) GetRates(ctx context.Context) (*model.RatesUpdated, error) {
	var snap model.RatesUpdated
	err := c.GetJSON(ctx, ratesKey, &snap)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutLeaderboard stores the latest leaderboard.
func (c *Cache) PutLeaderboard(ctx context.Context, board any) error {
	if err := c.SetJSON(ctx, leaderboardKey, board, c.ttl); err != nil {
		c.logger.Warn("store.cache.put_leaderboard_failed", zap.Error(err))
		return err
	}
	return nil
}

// GetLeaderboard decodes the cached leaderboard into dest.
func (c *Cache) GetLeaderboard(ctx context.Context, dest any) error {
	return c.GetJSON(ctx, leaderboardKey, dest)
}

func (c *Cache) HealthCheck(ctx context.Context) error {
	if c.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
