package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"

	"github.com/go-redis/redis/v8"
)

const productCacheTTL = 5 * time.Minute

// Client wraps Redis for the two side channels the service uses it for:
// a read-through product cache and the idempotency fast path.
type Client struct {
	rdb            *redis.Client
	idempotencyTTL time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int, idempotencyTTL time.Duration) (*Client, error) {
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

	return &Client{rdb: rdb, idempotencyTTL: idempotencyTTL}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

// GetProduct returns the cached product, or nil on a miss.
func (c *Client) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	payload, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var product models.Product
	if err := json.Unmarshal(payload, &product); err != nil {
		// A corrupt entry behaves like a miss; the next Set repairs it.
		return nil, nil
	}
	return &product, nil
}

// SetProduct caches a product with a short TTL.
func (c *Client) SetProduct(ctx context.Context, p *models.Product) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, productKey(p.ID), payload, productCacheTTL).Err()
}

// InvalidateProduct drops a product from the cache after a mutation.
func (c *Client) InvalidateProduct(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, productKey(id)).Err()
}

// GetIdempotencyResult returns the stored placement result for a key, or nil.
func (c *Client) GetIdempotencyResult(ctx context.Context, key string) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, "idempotency:"+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// SetIdempotencyResult stores a placement result under its idempotency key.
// The database unique index remains the backstop once the TTL expires.
func (c *Client) SetIdempotencyResult(ctx context.Context, key string, payload []byte) error {
	return c.rdb.Set(ctx, "idempotency:"+key, payload, c.idempotencyTTL).Err()
}
