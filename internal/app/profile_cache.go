package app

import (
	"context"
	"sync"
	"time"

	"fitclub_comms/internal/domain/profile"
)

// ProfileCache memoizes profile lookups for caller role resolution.
// Entries expire after ttl; a zero ttl disables caching.
type ProfileCache struct {
	repo profile.Repository
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedProfile
}

type cachedProfile struct {
	p       profile.Profile
	expires time.Time
}

func NewProfileCache(repo profile.Repository, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		repo:    repo,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedProfile),
	}
}

// WithClock returns the cache using now as its time source.
func (c *ProfileCache) WithClock(now func() time.Time) *ProfileCache {
	c.now = now
	return c
}

// Get returns a copy of the profile, loading it on a miss or after expiry.
// Lookup errors are not cached.
func (c *ProfileCache) Get(ctx context.Context, id string) (*profile.Profile, error) {
	if c.ttl > 0 {
		c.mu.Lock()
		e, ok := c.entries[id]
		if ok && c.now().Before(e.expires) {
			c.mu.Unlock()
			p := e.p
			p.Tags = append([]string(nil), e.p.Tags...)
			return &p, nil
		}
		if ok {
			delete(c.entries, id)
		}
		c.mu.Unlock()
	}

	p, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[id] = cachedProfile{p: *p, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return p, nil
}

// Invalidate drops one cached profile, e.g. after a role change.
func (c *ProfileCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Purge drops every cached profile.
func (c *ProfileCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cachedProfile)
	c.mu.Unlock()
}

// Len reports the number of cached entries, expired or not.
func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
