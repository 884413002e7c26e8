package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a continuously refilling token bucket. Tokens accumulate at
// RefillRate per second up to MaxTokens; there are no window boundaries and
// the balance never resets to zero on its own.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time

	now func() time.Time
}

// NewBucket creates a full bucket holding maxTokens and refilling at
// refillRate tokens per second.
func NewBucket(maxTokens, refillRate float64) *Bucket {
	return &Bucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// refill credits tokens for the time elapsed since the last refill.
// Callers must hold b.mu.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
	}
	b.lastRefill = now
}

// CanConsume reports whether n tokens are currently available. It refreshes
// the balance but does not deduct.
func (b *Bucket) CanConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens >= n
}

// Consume deducts n tokens if available and reports whether it did.
func (b *Bucket) Consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Tokens returns the current balance after a refresh.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// LastRefill returns the time of the most recent balance refresh. The
// limiter's sweep uses it as an idleness signal.
func (b *Bucket) LastRefill() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}
