package directory

import (
	"context"
	"time"

	"activity-monitor/internal/rbac"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedResolver memoizes successful lookups for ttl. Misses and errors
// always go to the wrapped resolver so new users are seen immediately.
type CachedResolver struct {
	next  Resolver
	cache *expirable.LRU[string, rbac.Role]
}

func NewCachedResolver(next Resolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, rbac.Role](size, nil, ttl),
	}
}

func (c *CachedResolver) ResolveActorRole(ctx context.Context, actor string) (rbac.Role, error) {
	key := normalize(actor)
	if role, ok := c.cache.Get(key); ok {
		return role, nil
	}
	role, err := c.next.ResolveActorRole(ctx, actor)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, role)
	return role, nil
}

// Remove drops the cached role for actor so the next lookup sees the
// directory's current value.
func (c *CachedResolver) Remove(actor string) { c.cache.Remove(normalize(actor)) }

func (c *CachedResolver) Len() int { return c.cache.Len() }
