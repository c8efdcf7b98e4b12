package store

import (
	"context"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/viccon/sturdyc"
)

const cachePrefix = "item-metadata"

// CacheConfig sizes the in-process read-through layer.
type CacheConfig struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
}

// DefaultCacheConfig returns a small, short-lived cache; the durable store
// stays authoritative.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity:           10000,
		NumShards:          64,
		TTL:                30 * time.Second,
		EvictionPercentage: 10,
	}
}

// Cached puts a sturdyc read-through cache in front of a Store's bulk
// lookups. Only hits are cached; misses always reach the inner store.
// Upserts go through and invalidate the written key.
type Cached struct {
	Store
	client *sturdyc.Client[models.Record]
	keyFn  sturdyc.KeyFn
}

// NewCached wraps inner.
func NewCached(inner Store, cfg CacheConfig) *Cached {
	client := sturdyc.New[models.Record](
		cfg.Capacity,
		max(cfg.NumShards, 1),
		cfg.TTL,
		max(cfg.EvictionPercentage, 1),
	)
	return &Cached{
		Store:  inner,
		client: client,
		keyFn:  client.BatchKeyFn(cachePrefix),
	}
}

func (c *Cached) GetMany(ctx context.Context, keys []string) (map[string]models.Record, error) {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return map[string]models.Record{}, nil
	}
	out, err := c.client.GetOrFetchBatch(ctx, keys, c.keyFn, c.Store.GetMany)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cached) Upsert(ctx context.Context, rec models.Record) error {
	if err := c.Store.Upsert(ctx, rec); err != nil {
		return err
	}
	c.client.Delete(c.keyFn(rec.Key))
	return nil
}
