package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_Burst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})
	defer l.Stop()

	assert.True(t, l.Allow("client"))
	assert.True(t, l.Allow("client"))
	assert.True(t, l.Allow("client"))
	assert.False(t, l.Allow("client"), "burst exhausted")
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "other clients are unaffected")
}

func TestAllow_Refill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	assert.True(t, l.Allow("client"))
	assert.False(t, l.Allow("client"))

	// 100 tokens/sec: after 50ms there should be tokens again.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow("client"))
}
