package channels

import (
	"strconv"
	"testing"
)

func TestRateLimiterAllowsBurstThenThrottles(t *testing.T) {
	rl := NewWebhookRateLimiter()
	allowed := 0
	for i := 0; i < rateLimitBurst+5; i++ {
		if rl.Allow("alice") {
			allowed++
		}
	}
	if allowed != rateLimitBurst {
		t.Fatalf("expected exactly %d allowed in a burst, got %d", rateLimitBurst, allowed)
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewWebhookRateLimiter()
	for i := 0; i < rateLimitBurst; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("expected alice's burst allowance to be untouched by bob")
		}
	}
	if !rl.Allow("bob") {
		t.Fatalf("expected bob to have his own independent token bucket")
	}
}

func TestRateLimiterEvictsUnderHardCap(t *testing.T) {
	rl := NewWebhookRateLimiter()
	for i := 0; i < maxTrackedKeys+10; i++ {
		rl.Allow("key-" + strconv.Itoa(i))
	}
	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()
	if n > maxTrackedKeys {
		t.Fatalf("expected tracked keys bounded at %d, got %d", maxTrackedKeys, n)
	}
}
