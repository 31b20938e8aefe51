// Package memcache is an in-process cache.Cache for tests and single-node runs.
package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/modofreelanceos/automations/internal/cache"
)

type entry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a map guarded by a mutex. Expired entries are dropped lazily.
type Cache struct {
	// SetErr, when set, is returned by Set and SetRunStatus without storing.
	SetErr error

	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

func (c *Cache) Ping(_ context.Context) error { return nil }

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}
	c.entries[key] = c.newEntry(value, ttl)
	return nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *Cache) SetRunStatus(ctx context.Context, jobID, status string, ttl time.Duration) error {
	return c.Set(ctx, cache.RunStatusKey(jobID), []byte(status), ttl)
}

func (c *Cache) GetRunStatus(ctx context.Context, jobID string) (string, bool, error) {
	v, ok, err := c.Get(ctx, cache.RunStatusKey(jobID))
	return string(v), ok, err
}

// IncrWithExpiry starts a window of length expiry on the first increment and
// leaves it alone on later ones.
func (c *Cache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		e = c.newEntry(nil, expiry)
	}
	e.count++
	c.entries[key] = e
	return e.count, nil
}

func (c *Cache) lookup(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	return e
}

var _ cache.Cache = (*Cache)(nil)
