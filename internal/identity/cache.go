package identity

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/suteetoe/payroll/prometheus"
)

// CachedSource keeps recently fetched profiles for a short TTL. Failures are
// not cached so a flaky lookup is retried on the next request.
type CachedSource struct {
	source Source
	cache  *lru.LRU[string, *Profile]
}

// NewCachedSource wraps source with an expirable LRU cache
func NewCachedSource(source Source, size int, ttl time.Duration) *CachedSource {
	if size < 1 {
		size = 1
	}
	return &CachedSource{
		source: source,
		cache:  lru.NewLRU[string, *Profile](size, nil, ttl),
	}
}

// GetPrincipal implements Source
func (c *CachedSource) GetPrincipal(ctx context.Context, id string) (*Profile, error) {
	if profile, ok := c.cache.Get(id); ok {
		prometheus.RecordIdentityLookup("hit")
		return profile, nil
	}

	profile, err := c.source.GetPrincipal(ctx, id)
	if err != nil {
		prometheus.RecordIdentityLookup("error")
		return nil, err
	}

	prometheus.RecordIdentityLookup("miss")
	c.cache.Add(id, profile)
	return profile, nil
}
