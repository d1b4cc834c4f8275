package pictures

import (
	"context"
	"errors"
	"sync"
	"time"
)

type cacheEntry struct {
	picture Picture
	missing bool
	expires time.Time
}

// CachingStore wraps another Store with a TTL-based in-memory cache. Misses are
// cached as well so that users without a picture do not hit the backend on every
// location poll.
type CachingStore struct {
	base Store
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingStore returns a Store that caches lookups for the provided TTL.
func NewCachingStore(base Store, ttl time.Duration) *CachingStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingStore{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

// Base returns the wrapped store.
func (c *CachingStore) Base() Store {
	return c.base
}

// Load returns the cached picture when available, otherwise it delegates to the
// underlying store and remembers the result.
func (c *CachingStore) Load(ctx context.Context, username string) (Picture, error) {
	if c == nil || c.base == nil {
		return Picture{}, errors.New("picture store unavailable")
	}

	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[username]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		if entry.missing {
			return Picture{}, ErrNotFound
		}
		return entry.picture, nil
	}

	picture, err := c.base.Load(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		c.store(username, cacheEntry{missing: true, expires: now.Add(c.ttl)})
		return Picture{}, ErrNotFound
	case err != nil:
		return Picture{}, err
	}

	c.store(username, cacheEntry{picture: picture, expires: now.Add(c.ttl)})
	return picture, nil
}

// Save writes through to the underlying store and refreshes the cached entry.
func (c *CachingStore) Save(ctx context.Context, username string, picture Picture) error {
	if c == nil || c.base == nil {
		return errors.New("picture store unavailable")
	}
	if err := c.base.Save(ctx, username, picture); err != nil {
		c.mu.Lock()
		delete(c.items, username)
		c.mu.Unlock()
		return err
	}
	c.store(username, cacheEntry{picture: picture, expires: c.now().Add(c.ttl)})
	return nil
}

func (c *CachingStore) store(username string, entry cacheEntry) {
	c.mu.Lock()
	c.items[username] = entry
	c.mu.Unlock()
}
