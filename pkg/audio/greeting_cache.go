// GreetingCache pre-synthesizes per-customer greeting audio so the first
// agent utterance can be played before the Agent WebSocket produces audio.
// Entries are base64 µ-law 8kHz, keyed by display name. A miss is not an
// error; callers simply skip the fast path.

package audio

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/brightcall/voicebridge/pkg/trace"
)

// Synthesizer produces 16-bit mono PCM at 8kHz for the given text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// GreetingCache holds pre-rendered greeting audio keyed by customer name.
type GreetingCache struct {
	synth   Synthesizer
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]greetingEntry
}

type greetingEntry struct {
	payload  string // base64 µ-law
	renderAt time.Time
}

// NewGreetingCache creates a cache backed by the given synthesizer.
func NewGreetingCache(synth Synthesizer, ttl time.Duration) *GreetingCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &GreetingCache{
		synth:   synth,
		ttl:     ttl,
		entries: make(map[string]greetingEntry),
	}
}

// Prewarm renders the greeting for name in the background. Failures are
// logged and dropped; the session falls back to agent-produced audio.
func (c *GreetingCache) Prewarm(ctx context.Context, name, greeting string) {
	if c == nil || c.synth == nil || name == "" {
		return
	}

	c.mu.Lock()
	if e, ok := c.entries[name]; ok && time.Since(e.renderAt) < c.ttl {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go func() {
		err := trace.WithSpan(ctx, "greeting.prewarm", func(ctx context.Context) error {
			pcm, err := c.synth.Synthesize(ctx, greeting)
			if err != nil {
				return err
			}
			payload := base64.StdEncoding.EncodeToString(PCMToMuLaw(pcm))

			c.mu.Lock()
			c.entries[name] = greetingEntry{payload: payload, renderAt: time.Now()}
			c.mu.Unlock()
			log.Printf("[GreetingCache] Cached greeting for %q (%d bytes µ-law)", name, len(payload))
			return nil
		})
		if err != nil {
			log.Printf("[GreetingCache] Synthesis failed for %q: %v", name, err)
		}
	}()
}

// Get returns the cached base64 µ-law greeting for name, if fresh.
func (c *GreetingCache) Get(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok || time.Since(e.renderAt) >= c.ttl {
		delete(c.entries, name)
		return "", false
	}
	return e.payload, true
}

// Size returns the number of cached greetings.
func (c *GreetingCache) Size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
