package replay

import (
	"context"
	"sync"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
)

// MemoryGuard is an in-process replay guard backed by an expiring cache.
// Suitable for tests and single-node deployments; anything multi-node needs
// the Redis guard.
type MemoryGuard struct {
	mu    sync.Mutex
	cache *cache.Cache[string, struct{}]
}

// NewMemoryGuard creates a new in-memory replay guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		cache: cache.New[string, struct{}](),
	}
}

// CheckAndSet implements Guard. The mutex serializes the get-then-set pair.
func (g *MemoryGuard) CheckAndSet(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.cache.Get(key); seen {
		return false, nil
	}
	g.cache.Set(key, struct{}{}, cache.WithExpiration(ttl))
	return true, nil
}
