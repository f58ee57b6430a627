package ratelimit

import (
	"sync"
	"time"
)

// One token is represented as 1e9 nano-tokens, so a fill rate of X tokens/sec
// adds X nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

// TokenBucket is a deterministic token bucket that refills at an integer rate
// (tokens/sec) using a provided Clock.
//
// The fixed-point nano-token representation avoids float rounding drift.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: capacity * nanoPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes the given number of tokens if available.
//
// tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanoPerToken
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Don't refill; move the reference point.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	capacityNano := b.capacity * nanoPerToken
	need := capacityNano - b.available
	if need <= 0 {
		b.available = capacityNano
		return
	}

	// fillRate is tokens/sec, which equals nano-tokens/ns in the fixed-point
	// representation. Clamp before multiplying to avoid overflow when the
	// bucket has been idle for a long time.
	if elapsed >= need/b.fillRate+1 {
		b.available = capacityNano
		return
	}
	b.available += elapsed * b.fillRate
	if b.available > capacityNano {
		b.available = capacityNano
	}
}
