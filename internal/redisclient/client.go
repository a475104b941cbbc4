package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/cart_add.lua
var cartAddScript string

//go:embed scripts/cart_consume.lua
var cartConsumeScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	addScript     *redis.Script
	consumeScript *redis.Script
	unlockScript  *redis.Script
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
		addScript:     redis.NewScript(cartAddScript),
		consumeScript: redis.NewScript(cartConsumeScript),
		unlockScript:  redis.NewScript(releaseLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cartKey(buyerID string) string {
	return fmt.Sprintf("cart:%s", buyerID)
}

// AddCartItem atomically adds qty to the line and clamps the result to maxQty.
// A result of zero removes the line.
func (c *Client) AddCartItem(ctx context.Context, buyerID, productID string, qty, maxQty int) (int, bool, error) {
	return c.runCartScript(ctx, buyerID, productID, qty, maxQty, "add")
}

// SetCartItem atomically replaces the line quantity, clamped to maxQty.
func (c *Client) SetCartItem(ctx context.Context, buyerID, productID string, qty, maxQty int) (int, bool, error) {
	return c.runCartScript(ctx, buyerID, productID, qty, maxQty, "set")
}

func (c *Client) runCartScript(ctx context.Context, buyerID, productID string, qty, maxQty int, mode string) (int, bool, error) {
	result, err := c.addScript.Run(ctx, c.rdb, []string{cartKey(buyerID)}, productID, qty, maxQty, mode).Result()
	if err != nil {
		return 0, false, fmt.Errorf("cart script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected script result type")
	}
	stored, ok1 := values[0].(int64)
	clamped, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("unexpected script result type")
	}

	return int(stored), clamped == 1, nil
}

// RemoveCartItem deletes one line
func (c *Client) RemoveCartItem(ctx context.Context, buyerID, productID string) error {
	return c.rdb.HDel(ctx, cartKey(buyerID), productID).Err()
}

// ClearCart deletes every line of the cart
func (c *Client) ClearCart(ctx context.Context, buyerID string) error {
	return c.rdb.Del(ctx, cartKey(buyerID)).Err()
}

// CartQuantities returns productID -> quantity for the buyer
func (c *Client) CartQuantities(ctx context.Context, buyerID string) (map[string]int, error) {
	result, err := c.rdb.HGetAll(ctx, cartKey(buyerID)).Result()
	if err != nil {
		return nil, err
	}

	items := make(map[string]int, len(result))
	for productID, raw := range result {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt cart line %s for buyer %s: %w", productID, buyerID, err)
		}
		if qty > 0 {
			items[productID] = qty
		}
	}
	return items, nil
}

// ConsumeCartItems subtracts what an order took from the cart. Quantities added
// while the order was being built stay in the cart.
func (c *Client) ConsumeCartItems(ctx context.Context, buyerID string, consumed map[string]int) error {
	if len(consumed) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(consumed)*2)
	for productID, qty := range consumed {
		args = append(args, productID, qty)
	}

	if err := c.consumeScript.Run(ctx, c.rdb, []string{cartKey(buyerID)}, args...).Err(); err != nil {
		return fmt.Errorf("consume cart script failed: %w", err)
	}
	return nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the stored value, or "" when the key is unknown.
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// AcquireLock acquires a distributed lock. The returned token must be passed to
// ReleaseLock so a lock that expired and was taken by someone else is left alone.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a distributed lock held with token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.unlockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}
