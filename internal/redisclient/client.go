package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

//go:embed scripts/commit_stock.lua
var commitStockScript string

// ErrStockNotCached is returned when a counter has not been primed in Redis
var ErrStockNotCached = errors.New("stock counter not cached")

// Counter kinds
const (
	KindProduct       = "product"
	KindParameterSet  = "parameter-set"
	KindSessionTicket = "session-ticket"
)

// StockKey returns the hash key of a stock counter
func StockKey(kind string, id int64, shipLater bool) string {
	key := fmt.Sprintf("inventory:%s:%d", kind, id)
	if shipLater {
		key += ":ship-later"
	}
	return key
}

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	commitScript  *redis.Script
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
		commitScript:  redis.NewScript(commitStockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) runScript(ctx context.Context, script *redis.Script, name, key string, quantity int) (int64, error) {
	result, err := script.Run(ctx, c.rdb, []string{key}, quantity).Result()
	if err != nil {
		return 0, fmt.Errorf("%s script failed: %w", name, err)
	}

	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected %s script result type %T", name, result)
	}
	if code == -1 {
		return code, ErrStockNotCached
	}
	return code, nil
}

// ReserveStock atomically moves quantity from available to reserved.
// Returns false if the counter holds less than quantity.
func (c *Client) ReserveStock(ctx context.Context, key string, quantity int) (bool, error) {
	code, err := c.runScript(ctx, c.reserveScript, "reserve stock", key, quantity)
	if err != nil {
		return false, err
	}
	return code == 1, nil
}

// ReleaseStock atomically returns reserved stock to available (compensation)
func (c *Client) ReleaseStock(ctx context.Context, key string, quantity int) error {
	_, err := c.runScript(ctx, c.releaseScript, "release stock", key, quantity)
	return err
}

// CommitStock atomically drops reserved stock once it is sold
func (c *Client) CommitStock(ctx context.Context, key string, quantity int) error {
	_, err := c.runScript(ctx, c.commitScript, "commit stock", key, quantity)
	return err
}

// InitInventory overwrites a stock counter
func (c *Client) InitInventory(ctx context.Context, key string, available, reserved int) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "available", available, "reserved", reserved)
	_, err := pipe.Exec(ctx)
	return err
}

// GetInventory retrieves current counts of a stock counter
func (c *Client) GetInventory(ctx context.Context, key string) (available, reserved int, err error) {
	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if len(result) == 0 {
		return 0, 0, ErrStockNotCached
	}

	available, _ = strconv.Atoi(result["available"])
	reserved, _ = strconv.Atoi(result["reserved"])
	return available, reserved, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the stored value, or "" when the key is unknown
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
