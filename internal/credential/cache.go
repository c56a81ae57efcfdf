package credential

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Source fetches raw secret material.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Cache keeps the material fetched from a Source for ttl. Concurrent callers
// share one fetch.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	cred      Credential
	fetchedAt time.Time
}

func NewCache(src Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{src: src, ttl: ttl, now: time.Now}
}

// Get returns the cached credential, fetching it when absent or expired.
// Failures wrap ErrUnavailable.
func (c *Cache) Get(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cred.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.cred, nil
	}

	if err := ctx.Err(); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	b, err := c.src.Fetch(ctx)
	if err != nil {
		if isUnavailable(err) {
			return Credential{}, err
		}
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(b) == 0 {
		return Credential{}, fmt.Errorf("%w: empty secret", ErrUnavailable)
	}

	c.cred = New(b)
	c.fetchedAt = c.now()
	return c.cred, nil
}

// Invalidate drops the cached material so the next Get refetches it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cred = Credential{}
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
