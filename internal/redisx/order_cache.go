package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

// OrderCache is a read-through cache of order documents for GET requests.
type OrderCache struct {
	rdb redis.Cmdable
}

func NewOrderCache(rdb redis.Cmdable) *OrderCache { return &OrderCache{rdb: rdb} }

func orderKey(id string) string { return fmt.Sprintf(KeyOrder, id) }

// Get returns the cached order and whether it was present.
func (c *OrderCache) Get(ctx context.Context, id string) (orders.Order, bool, error) {
	b, err := c.rdb.Get(ctx, orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return orders.Order{}, false, fmt.Errorf("decode cached order %s: %w", id, err)
	}
	return o, true, nil
}

func (c *OrderCache) Put(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, orderKey(o.ID), b, TTLOrderCache).Err()
}

// Add stores o only when no entry exists. Reads fill the cache with Add so a
// document loaded before a concurrent status change cannot replace the newer
// one that change wrote with Put.
func (c *OrderCache) Add(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, orderKey(o.ID), b, TTLOrderCache).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, orderKey(id)).Err()
}
