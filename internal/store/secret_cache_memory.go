package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/secrets"
)

type cachedValue struct {
	value     nillion.SecretValue
	expiresAt time.Time
}

// MemorySecretCache is a process-local secrets.Cache. Expired entries are
// dropped on read.
type MemorySecretCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]cachedValue
}

// NewMemorySecretCache creates an empty cache on the wall clock.
func NewMemorySecretCache() *MemorySecretCache {
	return &MemorySecretCache{
		now:     time.Now,
		entries: make(map[string]cachedValue),
	}
}

// WithCacheClock replaces time.Now, for tests.
func (c *MemorySecretCache) WithCacheClock(now func() time.Time) *MemorySecretCache {
	c.now = now

	return c
}

func (c *MemorySecretCache) Get(_ context.Context, key string) (nillion.SecretValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nillion.SecretValue{}, secrets.ErrCacheMiss
	}

	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)

		return nillion.SecretValue{}, secrets.ErrCacheMiss
	}

	return entry.value, nil
}

func (c *MemorySecretCache) Set(_ context.Context, key string, value nillion.SecretValue, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedValue{value: value, expiresAt: c.now().Add(ttl)}

	return nil
}

func (c *MemorySecretCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}

	return nil
}

// Compile-time check.
var _ secrets.Cache = (*MemorySecretCache)(nil)
