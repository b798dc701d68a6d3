package ratelimit

import (
	"sync"
	"time"
)

// IPRateLimiter rate limits based on client addresses
type IPRateLimiter struct {
	limiters   map[string]*TokenBucket
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	idleTTL    time.Duration
	cleanup    *time.Ticker
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewIPRateLimiter creates a new IPRateLimiter. Buckets idle for longer than
// ten minutes are evicted.
func NewIPRateLimiter(maxTokens, refillRate float64) *IPRateLimiter {
	limiter := &IPRateLimiter{
		limiters:   make(map[string]*TokenBucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		idleTTL:    10 * time.Minute,
		cleanup:    time.NewTicker(time.Minute),
		stopChan:   make(chan struct{}),
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow checks if a request from the given IP can proceed
func (ipl *IPRateLimiter) Allow(ip string) bool {
	return ipl.getLimiter(ip).Allow()
}

func (ipl *IPRateLimiter) getLimiter(ip string) *TokenBucket {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	limiter, exists := ipl.limiters[ip]
	if !exists {
		limiter = NewTokenBucket(ipl.maxTokens, ipl.refillRate)
		ipl.limiters[ip] = limiter
	}
	return limiter
}

// Len returns the number of tracked clients
func (ipl *IPRateLimiter) Len() int {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()
	return len(ipl.limiters)
}

func (ipl *IPRateLimiter) evictIdle(now time.Time) {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	for ip, limiter := range ipl.limiters {
		if now.Sub(limiter.idleSince()) > ipl.idleTTL {
			delete(ipl.limiters, ip)
		}
	}
}

func (ipl *IPRateLimiter) cleanupLoop() {
	for {
		select {
		case now := <-ipl.cleanup.C:
			ipl.evictIdle(now)
		case <-ipl.stopChan:
			ipl.cleanup.Stop()
			return
		}
	}
}

// Stop stops the IP rate limiter
func (ipl *IPRateLimiter) Stop() {
	ipl.stopOnce.Do(func() { close(ipl.stopChan) })
}
