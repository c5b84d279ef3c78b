package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/bind_key.lua
var bindKeyScript string

// inFlight marks an idempotency key whose request has not finished yet
const inFlight = "-"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	bindScript    *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		bindScript:    redis.NewScript(bindKeyScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// TryLock acquires a short-lived lock without waiting. The returned release func only
// deletes the lock while it is still owned by this caller.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// the caller's context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey}, token).Err(); err != nil {
			util.GetLogger().Warn("Failed to release lock", zap.String("key", lockKey), zap.Error(err))
		}
	}
	return release, true, nil
}

// Claim reserves an idempotency key. When the key exists its bound value is returned
// with claimed=false; the value is empty while the first request is still running.
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	redisKey := fmt.Sprintf("idempotency:%s", key)

	ok, err := c.rdb.SetNX(ctx, redisKey, inFlight, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	value, err := c.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return c.Claim(ctx, key, ttl)
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	if value == inFlight {
		value = ""
	}
	return value, false, nil
}

// Bind records the result of a claimed idempotency key
func (c *Client) Bind(ctx context.Context, key, value string, ttl time.Duration) error {
	redisKey := fmt.Sprintf("idempotency:%s", key)

	bound, err := c.bindScript.Run(ctx, c.rdb, []string{redisKey}, inFlight, value, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("bind idempotency key: %w", err)
	}
	if bound == 0 {
		return fmt.Errorf("idempotency key %s is no longer claimed", key)
	}
	return nil
}

// Forget drops an idempotency key so the request can be retried
func (c *Client) Forget(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}
