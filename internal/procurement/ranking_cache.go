package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
)

const rankingVersionKey = "procurement:ranking:version"

// RankingCache stores supplier rankings in Redis. Keys embed a version that
// Bump increments whenever supplier data changes, so stale rankings are never
// read back. Identical concurrent lookups share one computation.
type RankingCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewRankingCache builds the cache. A nil client disables caching but keeps
// request collapsing.
func NewRankingCache(client *redis.Client, ttl time.Duration) *RankingCache {
	return &RankingCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *RankingCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, rankingVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, rankingVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, rankingVersionKey).Int64()
	}
	return ver, err
}

// Bump invalidates every cached ranking.
func (c *RankingCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, rankingVersionKey).Err()
}

// Fetch returns the cached ranking for refs or computes it with loader.
func (c *RankingCache) Fetch(ctx context.Context, orderType OrderType, refs []catalog.Ref, loader func(context.Context) ([]Ranking, error)) ([]Ranking, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("procurement: ranking cache version: %w", err)
	}
	key := rankingKey(orderType, refs, ver)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetchJSON(ctx, key, loader)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Ranking), nil
	}
}

func (c *RankingCache) fetchJSON(ctx context.Context, key string, loader func(context.Context) ([]Ranking, error)) ([]Ranking, error) {
	if c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []Ranking
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return nil, err
	}
	return value, nil
}

func rankingKey(orderType OrderType, refs []catalog.Ref, ver int64) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, ref.String())
	}
	return fmt.Sprintf("procurement:ranking:%s:%s:%d", orderType, strings.Join(parts, ","), ver)
}
