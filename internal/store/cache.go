// ABOUTME: Read-through ristretto cache in front of destination lookups
// ABOUTME: Writes go to the inner store first and then invalidate the cached entry

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultDestinationTTL bounds how long a cached destination may be served
const DefaultDestinationTTL = 5 * time.Minute

// CachedStore wraps a Store and caches GetDestination results
type CachedStore struct {
	Store
	cache *ristretto.Cache[string, *Destination]
	ttl   time.Duration
}

// NewCachedStore creates a CachedStore. A non-positive ttl uses DefaultDestinationTTL.
func NewCachedStore(inner Store, ttl time.Duration) (*CachedStore, error) {
	if ttl <= 0 {
		ttl = DefaultDestinationTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *Destination]{
		NumCounters:        10_000,
		MaxCost:            1_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating destination cache: %w", err)
	}
	return &CachedStore{Store: inner, cache: c, ttl: ttl}, nil
}

// GetDestination serves from cache, falling back to the inner store
func (c *CachedStore) GetDestination(ctx context.Context, id string) (*Destination, error) {
	if d, ok := c.cache.Get(id); ok {
		cp := *d
		return &cp, nil
	}

	d, err := c.Store.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}

	cp := *d
	c.cache.SetWithTTL(id, &cp, 1, c.ttl)
	c.cache.Wait()
	return d, nil
}

// UpdateDestination writes through and invalidates
func (c *CachedStore) UpdateDestination(ctx context.Context, d *Destination) error {
	if err := c.Store.UpdateDestination(ctx, d); err != nil {
		return err
	}
	c.cache.Del(d.ID)
	c.cache.Wait()
	return nil
}

// DeleteDestination deletes and invalidates
func (c *CachedStore) DeleteDestination(ctx context.Context, id string) error {
	if err := c.Store.DeleteDestination(ctx, id); err != nil {
		return err
	}
	c.cache.Del(id)
	c.cache.Wait()
	return nil
}

// Close shuts down the cache and the inner store
func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.Store.Close()
}
