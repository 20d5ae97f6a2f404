// Signed URL prewarm cache.
//
// WebSocket setup to the agent provider dominates first-message latency;
// minting signed URLs ahead of time overlaps that cost with telephony
// ringing. Entries expire after a fixed TTL and are consumed once.

package agent

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// URLTTL is how long a minted signed URL stays usable.
	URLTTL = 5 * time.Minute

	// DefaultCacheTarget is the number of URLs held before the call-rate
	// predictor adjusts it.
	DefaultCacheTarget = 3

	// MaxCacheTarget caps the predictor-driven target.
	MaxCacheTarget = 10

	refillInterval = 30 * time.Second
)

// URLMinter mints one signed URL per call.
type URLMinter interface {
	GetSignedURL(ctx context.Context) (string, error)
}

type urlEntry struct {
	url        string
	acquiredAt time.Time
}

// URLCache pre-fetches and hands out short-lived signed URLs.
//
// The mutex guards only the entry slice and target; minting is an HTTP
// call and is always performed with the mutex released.
type URLCache struct {
	minter URLMinter
	ttl    time.Duration

	mu      sync.Mutex
	entries []urlEntry
	target  int
	filling bool
}

// NewURLCache creates a cache with the default target size.
func NewURLCache(minter URLMinter) *URLCache {
	return &URLCache{
		minter: minter,
		ttl:    URLTTL,
		target: DefaultCacheTarget,
	}
}

// GetURL returns a signed URL younger than the TTL. A cache hit schedules
// asynchronous replenishment; a miss falls back to synchronous minting, so
// prewarm failure never fails a call by itself.
func (c *URLCache) GetURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.evictStaleLocked()
	if len(c.entries) > 0 {
		entry := c.entries[0]
		c.entries = c.entries[1:]
		c.mu.Unlock()

		go c.refill(context.WithoutCancel(ctx))
		return entry.url, nil
	}
	c.mu.Unlock()

	log.Printf("[URLCache] Cache empty, minting signed URL synchronously")
	return c.minter.GetSignedURL(ctx)
}

// SetTarget adjusts how many URLs the cache keeps warm (clamped to
// [1, MaxCacheTarget]). Shrinking takes effect as entries are consumed
// or expire.
func (c *URLCache) SetTarget(n int) {
	if n < 1 {
		n = 1
	}
	if n > MaxCacheTarget {
		n = MaxCacheTarget
	}

	c.mu.Lock()
	changed := c.target != n
	c.target = n
	c.mu.Unlock()

	if changed {
		log.Printf("[URLCache] Target size set to %d", n)
	}
}

// Size returns the number of fresh entries currently held.
func (c *URLCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictStaleLocked()
	return len(c.entries)
}

// Target returns the current target size.
func (c *URLCache) Target() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Run keeps the cache topped up until ctx is canceled.
func (c *URLCache) Run(ctx context.Context) {
	c.refill(ctx)

	ticker := time.NewTicker(refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refill(ctx)
		}
	}
}

// refill mints URLs until the cache reaches its target. Only one refill
// runs at a time; failures are logged and retried on the next cycle.
func (c *URLCache) refill(ctx context.Context) {
	c.mu.Lock()
	if c.filling {
		c.mu.Unlock()
		return
	}
	c.filling = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.filling = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		c.evictStaleLocked()
		need := c.target - len(c.entries)
		c.mu.Unlock()

		if need <= 0 || ctx.Err() != nil {
			return
		}

		signedURL, err := c.minter.GetSignedURL(ctx)
		if err != nil {
			log.Printf("[URLCache] Prewarm mint failed: %v", err)
			return
		}

		c.mu.Lock()
		c.entries = append(c.entries, urlEntry{url: signedURL, acquiredAt: time.Now()})
		c.mu.Unlock()
	}
}

// evictStaleLocked drops entries older than the TTL. Caller holds c.mu.
func (c *URLCache) evictStaleLocked() {
	fresh := c.entries[:0]
	for _, e := range c.entries {
		if time.Since(e.acquiredAt) < c.ttl {
			fresh = append(fresh, e)
		}
	}
	c.entries = fresh
}
