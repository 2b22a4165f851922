package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from attackers rotating source IPs/keys.
	maxTrackedKeys = 4096

	// rateLimitPerSecond and rateLimitBurst define each key's token
	// bucket: a sustained 30-per-minute rate with room for a short burst.
	rateLimitPerSecond = rate.Limit(30.0 / 60.0)
	rateLimitBurst     = 10

	// staleAfter prunes a key's bucket once it has sat idle this long.
	staleAfter = 5 * time.Minute
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimiter bounds the number of tracked rate-limit keys to
// prevent memory exhaustion from rotating source keys (DoS), backing
// each key with a golang.org/x/time/rate token bucket. Safe for
// concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter.
func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{entries: make(map[string]*rateLimitEntry)}
}

// Allow returns true if the key is within rate limits. Automatically
// prunes stale entries and enforces a hard cap on tracked keys.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= staleAfter {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}
