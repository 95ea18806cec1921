package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds short-lived batch progress snapshots so polling clients never
// contend with in-flight sync writes. A nil *Cache is a valid no-op cache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Cache {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl: ttl,
	}
}

func Key(batchID uint64) string {
	return fmt.Sprintf("sync:batch:%d:progress", batchID)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, val []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	// Best effort; a miss just means the next read folds from the database.
	_ = c.rdb.Set(ctx, key, val, c.ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, key).Err()
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
