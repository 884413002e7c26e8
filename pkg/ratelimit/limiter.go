package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the bucket sizing for the limiter. Per-sender buckets are
// deliberately smaller than the global bucket so a single abusive sender
// cannot exhaust aggregate capacity.
type Config struct {
	GlobalMaxTokens  float64 `yaml:"global_max_tokens"`
	GlobalRefillRate float64 `yaml:"global_refill_rate"`
	SenderMaxTokens  float64 `yaml:"sender_max_tokens"`
	SenderRefillRate float64 `yaml:"sender_refill_rate"`
}

// DefaultConfig returns the stock bucket sizing: 10 tokens at 1/s globally,
// 5 tokens at 0.2/s per sender.
func DefaultConfig() Config {
	return Config{
		GlobalMaxTokens:  10,
		GlobalRefillRate: 1,
		SenderMaxTokens:  5,
		SenderRefillRate: 0.2,
	}
}

// Limiter owns the global bucket and the lazily created per-sender buckets.
// It is safe for concurrent use from the dispatch and cleanup goroutines.
type Limiter struct {
	cfg    Config
	global *Bucket
	logger zerolog.Logger

	mu      sync.Mutex
	senders map[string]*Bucket
}

// NewLimiter creates a Limiter with the given bucket sizing.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	return &Limiter{
		cfg:     cfg,
		global:  NewBucket(cfg.GlobalMaxTokens, cfg.GlobalRefillRate),
		senders: make(map[string]*Bucket),
		logger:  logger.With().Str("component", "Limiter").Logger(),
	}
}

// senderBucket returns the bucket for sender, creating it on first use.
func (l *Limiter) senderBucket(sender string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.senders[sender]
	if !ok {
		b = NewBucket(l.cfg.SenderMaxTokens, l.cfg.SenderRefillRate)
		l.senders[sender] = b
		l.logger.Debug().Str("sender", sender).Msg("Created per-sender rate bucket.")
	}
	return b
}

// Allow consumes n tokens from the sender's bucket and then the global
// bucket. The per-sender check runs first so a starved sender does not
// drain global tokens it cannot use.
func (l *Limiter) Allow(sender string, n float64) bool {
	if !l.senderBucket(sender).Consume(n) {
		l.logger.Warn().Str("sender", sender).Msg("Per-sender rate limit exceeded.")
		return false
	}
	if !l.global.Consume(n) {
		l.logger.Warn().Str("sender", sender).Msg("Global rate limit exceeded.")
		return false
	}
	return true
}

// Global exposes the global bucket, used by tests and the stats surface.
func (l *Limiter) Global() *Bucket {
	return l.global
}

// ActiveBuckets returns the number of live per-sender buckets.
func (l *Limiter) ActiveBuckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}

// Sweep removes per-sender buckets whose last refill is older than maxIdle
// and returns the number removed. The router's cleanup loop calls this
// periodically to bound memory.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for sender, b := range l.senders {
		if b.LastRefill().Before(cutoff) {
			delete(l.senders, sender)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Info().Int("removed", removed).Int("remaining", len(l.senders)).Msg("Swept idle rate buckets.")
	}
	return removed
}
