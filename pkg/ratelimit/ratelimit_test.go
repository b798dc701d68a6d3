package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestTokenBucketRefills(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := newTokenBucketWithClock(2, 1, clock.now)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clock.t = clock.t.Add(1500 * time.Millisecond)
	assert.InDelta(t, 1.5, tb.Available(), 0.001)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := newTokenBucketWithClock(3, 10, clock.now)

	clock.t = clock.t.Add(time.Hour)

	assert.Equal(t, 3.0, tb.Available())
}

func TestIPRateLimiterIsolatesClients(t *testing.T) {
	l := NewIPRateLimiter(1, 0.001)
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestIPRateLimiterEvictsIdleBuckets(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	defer l.Stop()

	l.Allow("10.0.0.1")
	assert.Equal(t, 1, l.Len())

	l.evictIdle(time.Now().Add(11 * time.Minute))
	assert.Equal(t, 0, l.Len())
}
