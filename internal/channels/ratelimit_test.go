package channels

import (
	"strconv"
	"testing"
)

func TestWebhookRateLimiter(t *testing.T) {
	r := NewWebhookRateLimiter()

	for i := 0; i < rateLimitMaxHits; i++ {
		if !r.Allow("sender-a") {
			t.Fatalf("hit %d denied within limit", i+1)
		}
	}
	if r.Allow("sender-a") {
		t.Error("hit over limit allowed")
	}
	// Other keys are counted independently.
	if !r.Allow("sender-b") {
		t.Error("fresh key denied")
	}
}

func TestWebhookRateLimiterKeyCap(t *testing.T) {
	r := NewWebhookRateLimiter()
	for i := 0; i < maxTrackedKeys+50; i++ {
		r.Allow("key-" + strconv.Itoa(i))
	}
	if len(r.entries) > maxTrackedKeys {
		t.Errorf("tracked keys = %d, cap is %d", len(r.entries), maxTrackedKeys)
	}
}
