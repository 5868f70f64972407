// Package cache provides an optional Redis read-through cache for delivery
// records. A nil *DeliveryCache is valid and disables caching, so callers
// never have to branch on configuration.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
)

const defaultTTL = 24 * time.Hour

// DeliveryCache caches delivery records as JSON, keyed by id and by order
// id, both tenant-scoped.
type DeliveryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr string, ttl time.Duration) (*DeliveryCache, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &DeliveryCache{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (c *DeliveryCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func deliveryKey(tenantID, id string) string {
	return fmt.Sprintf("delivery:%s:%s", tenantID, id)
}

func orderKey(tenantID, orderID string) string {
	return fmt.Sprintf("delivery_order:%s:%s", tenantID, orderID)
}

// Set writes the delivery under both its id and order id keys.
func (c *DeliveryCache) Set(ctx context.Context, d *deliveries.Delivery) error {
	if c == nil || d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, deliveryKey(d.TenantID, d.ID), data, c.ttl).Err(); err != nil {
		return err
	}
	return c.client.Set(ctx, orderKey(d.TenantID, d.OrderID), data, c.ttl).Err()
}

// Get returns the cached delivery by id, or (nil, nil) on a miss.
func (c *DeliveryCache) Get(ctx context.Context, tenantID, id string) (*deliveries.Delivery, error) {
	return c.get(ctx, deliveryKey(tenantID, id))
}

// GetByOrder returns the cached delivery by order id, or (nil, nil) on a miss.
func (c *DeliveryCache) GetByOrder(ctx context.Context, tenantID, orderID string) (*deliveries.Delivery, error) {
	return c.get(ctx, orderKey(tenantID, orderID))
}

func (c *DeliveryCache) get(ctx context.Context, key string) (*deliveries.Delivery, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}
	var d deliveries.Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
