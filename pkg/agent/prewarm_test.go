package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMinter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *stubMinter) GetSignedURL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.calls++
	return fmt.Sprintf("wss://agent.example/session/%d", m.calls), nil
}

func (m *stubMinter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestURLCache_SyncFallbackWhenEmpty(t *testing.T) {
	minter := &stubMinter{}
	cache := NewURLCache(minter)

	url, err := cache.GetURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://agent.example/session/1", url)
}

func TestURLCache_HitPopsAndReplenishes(t *testing.T) {
	minter := &stubMinter{}
	cache := NewURLCache(minter)
	cache.refill(context.Background())
	require.Equal(t, DefaultCacheTarget, cache.Size())

	url, err := cache.GetURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://agent.example/session/1", url)

	// Async replenishment brings the cache back to target.
	deadline := time.After(2 * time.Second)
	for cache.Size() < DefaultCacheTarget {
		select {
		case <-deadline:
			t.Fatalf("cache never replenished, size %d", cache.Size())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestURLCache_StaleEntriesNeverHandedOut(t *testing.T) {
	minter := &stubMinter{}
	cache := NewURLCache(minter)
	cache.ttl = 10 * time.Millisecond
	cache.refill(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, cache.Size())

	url, err := cache.GetURL(context.Background())
	require.NoError(t, err)
	// Freshly minted, not a stale cache entry.
	assert.Equal(t, fmt.Sprintf("wss://agent.example/session/%d", minter.callCount()), url)
}

func TestURLCache_MintFailureSurfacesOnMiss(t *testing.T) {
	minter := &stubMinter{err: errors.New("upstream 500")}
	cache := NewURLCache(minter)

	_, err := cache.GetURL(context.Background())
	assert.Error(t, err)
}

func TestURLCache_SetTargetClamped(t *testing.T) {
	cache := NewURLCache(&stubMinter{})

	cache.SetTarget(50)
	assert.Equal(t, MaxCacheTarget, cache.Target())

	cache.SetTarget(0)
	assert.Equal(t, 1, cache.Target())

	cache.SetTarget(5)
	assert.Equal(t, 5, cache.Target())
	cache.refill(context.Background())
	assert.Equal(t, 5, cache.Size())
}
