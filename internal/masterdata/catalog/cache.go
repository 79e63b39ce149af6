package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedLookup is a read-through Redis cache in front of another Lookup.
// Negative results are not cached.
type CachedLookup struct {
	next   Lookup
	client *redis.Client
	ttl    time.Duration
}

// NewCachedLookup wraps next. A nil client disables caching.
func NewCachedLookup(next Lookup, client *redis.Client, ttl time.Duration) *CachedLookup {
	return &CachedLookup{next: next, client: client, ttl: ttl}
}

// ResolveItem implements Lookup.
func (c *CachedLookup) ResolveItem(ctx context.Context, id int64) (Entry, error) {
	return c.fetch(ctx, ItemRef(id), c.next.ResolveItem)
}

// ResolveService implements Lookup.
func (c *CachedLookup) ResolveService(ctx context.Context, id int64) (Entry, error) {
	return c.fetch(ctx, ServiceRef(id), c.next.ResolveService)
}

// Invalidate drops a cached entry after the catalog record changed.
func (c *CachedLookup) Invalidate(ctx context.Context, ref Ref) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(ref)).Err()
}

func (c *CachedLookup) fetch(ctx context.Context, ref Ref, load func(context.Context, int64) (Entry, error)) (Entry, error) {
	if c.client == nil {
		return load(ctx, ref.ID)
	}
	key := cacheKey(ref)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var e Entry
		if err := json.Unmarshal(payload, &e); err == nil {
			return e, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Entry{}, err
	}
	e, err := load(ctx, ref.ID)
	if err != nil {
		return Entry{}, err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func cacheKey(ref Ref) string {
	return "catalog:" + ref.String()
}
