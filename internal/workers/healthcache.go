package workers

import (
	"sync"
	"time"

	"github.com/intexuraos/code-dispatch/internal/domain"
)

// DefaultHealthTTL bounds how long a health reading may be served from cache
const DefaultHealthTTL = 5 * time.Second

type cacheEntry struct {
	health    domain.WorkerHealth
	expiresAt time.Time
}

// HealthCache is a per-location TTL cache of the last observed health
// reading. Explicitly constructed and injected so parallel test instances
// never share state. Entries are independent; a refresh replaces the whole
// entry atomically under the lock.
type HealthCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[domain.WorkerLocation]cacheEntry
	now     func() time.Time
}

// NewHealthCache creates a health cache with the given TTL. A zero ttl uses
// DefaultHealthTTL.
func NewHealthCache(ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &HealthCache{
		ttl:     ttl,
		entries: make(map[domain.WorkerLocation]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached health for a location if the entry is still fresh
func (c *HealthCache) Get(loc domain.WorkerLocation) (domain.WorkerHealth, bool) {
	c.mu.RLock()
	entry, ok := c.entries[loc]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return domain.WorkerHealth{}, false
	}
	return entry.health, true
}

// Put stores a fresh health reading with an absolute expiry of now + TTL
func (c *HealthCache) Put(loc domain.WorkerLocation, health domain.WorkerHealth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[loc] = cacheEntry{
		health:    health,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops the entry for a location
func (c *HealthCache) Invalidate(loc domain.WorkerLocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, loc)
}
