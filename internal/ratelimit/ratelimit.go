package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	add := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if add > 0 {
		tb.tokens = min(tb.tokens+add, tb.capacity)
		tb.lastRefill = now
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

type hostBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// RateLimiter throttles accepted connections globally and per remote host.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	mu       sync.Mutex
	global   *TokenBucket
	perHost  map[string]*hostBucket
	hostRate int
	burst    int
}

// NewRateLimiter returns a limiter; a rate of 0 disables that limit.
func NewRateLimiter(globalRate, perHostRate, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		perHost:  make(map[string]*hostBucket),
		hostRate: perHostRate,
		burst:    burst,
	}
	if globalRate > 0 {
		rl.global = NewTokenBucket(globalRate, burst)
	}
	return rl
}

// AllowConnection reports whether a new connection from host may proceed.
func (rl *RateLimiter) AllowConnection(host string) bool {
	if rl == nil {
		return true
	}
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.hostRate <= 0 {
		return true
	}
	rl.mu.Lock()
	hb, ok := rl.perHost[host]
	if !ok {
		hb = &hostBucket{bucket: NewTokenBucket(rl.hostRate, rl.burst)}
		rl.perHost[host] = hb
	}
	hb.lastSeen = time.Now()
	rl.mu.Unlock()
	return hb.bucket.Allow()
}

// Cleanup drops per-host buckets idle for longer than maxIdle and returns how many were removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for host, hb := range rl.perHost {
		if hb.lastSeen.Before(cutoff) {
			delete(rl.perHost, host)
			removed++
		}
	}
	return removed
}
