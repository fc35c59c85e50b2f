package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup marks event ids as processed.
type Dedup struct {
	rdb redis.Cmdable
}

func NewDedup(rdb redis.Cmdable) *Dedup { return &Dedup{rdb: rdb} }

// FirstSeen atomically claims id for scope and reports whether this caller was first.
func (d *Dedup) FirstSeen(ctx context.Context, scope, id string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, scope, id), "1", TTLDedup).Result()
}
