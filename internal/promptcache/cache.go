// Package promptcache caches the rendered agent system prompt fetched from
// the tool server, with a TTL and a static fallback for when the server is
// unreachable.
package promptcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const fetchTimeout = 10 * time.Second

// Fetcher retrieves the current system prompt from its source of truth.
type Fetcher interface {
	FetchPrompt(ctx context.Context) (string, error)
}

// Cache is a single process-wide slot for the system prompt. A fresh value
// is served until its TTL expires; a failed refresh serves the fallback
// without caching it, so the next request tries the source again.
type Cache struct {
	fetcher  Fetcher
	ttl      time.Duration
	fallback string
	log      *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	value     string
	fetchedAt time.Time
	inflight  chan struct{}
}

func New(fetcher Fetcher, ttl time.Duration, fallback string, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		fetcher:  fetcher,
		ttl:      ttl,
		fallback: fallback,
		log:      log,
		now:      time.Now,
	}
}

// Get returns the cached prompt if fresh, otherwise fetches a new one.
// Concurrent callers share a single in-flight fetch. Never returns an
// error: fetch failure degrades to the fallback prompt.
func (c *Cache) Get(ctx context.Context) string {
	for {
		c.mu.Lock()
		if c.value != "" && c.now().Sub(c.fetchedAt) < c.ttl {
			v := c.value
			c.mu.Unlock()
			return v
		}
		if c.inflight != nil {
			wait := c.inflight
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return c.fallback
			}
		}
		done := make(chan struct{})
		c.inflight = done
		c.mu.Unlock()

		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		prompt, err := c.fetcher.FetchPrompt(fctx)
		cancel()

		c.mu.Lock()
		c.inflight = nil
		close(done)
		if err != nil || prompt == "" {
			c.mu.Unlock()
			c.log.Warn("system prompt fetch failed, using fallback", zap.Error(err))
			return c.fallback
		}
		c.value = prompt
		c.fetchedAt = c.now()
		c.mu.Unlock()
		c.log.Info("system prompt refreshed", zap.Int("bytes", len(prompt)))
		return prompt
	}
}

// Invalidate clears the slot so the next Get refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = ""
	c.fetchedAt = time.Time{}
}
