package redisclient

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/store_response.lua
var storeResponseScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	storeScript   *redis.Script
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

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		storeScript:   redis.NewScript(storeResponseScript),
	}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func responseKey(key string) string { return fmt.Sprintf("idempotency:%s", key) }
func lockKey(key string) string     { return fmt.Sprintf("lock:%s", key) }
func eventKey(id string) string     { return fmt.Sprintf("event:%s", id) }

// GetIdempotentResponse returns a stored response for key, if any
func (c *Client) GetIdempotentResponse(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := c.rdb.Get(ctx, responseKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotent response: %w", err)
	}
	return body, true, nil
}

// StoreIdempotentResponse saves body under key and releases the matching lock atomically
func (c *Client) StoreIdempotentResponse(ctx context.Context, key, token string, body []byte, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, err := c.storeScript.Run(ctx, c.rdb, []string{responseKey(key), lockKey(key)}, body, seconds, token).Result()
	if err != nil {
		return fmt.Errorf("store response script failed: %w", err)
	}
	return nil
}

// AcquireLock acquires a distributed lock and returns the owner token needed to release it
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("failed to generate lock token: %w", err)
	}
	token := hex.EncodeToString(buf)

	ok, err := c.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return token, ok, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// MarkEventProcessed records an event id; it returns false if the id was already recorded
func (c *Client) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, eventKey(eventID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return ok, nil
}

// ForgetEvent removes an event id so that a redelivery is processed again
func (c *Client) ForgetEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, eventKey(eventID)).Err()
}
