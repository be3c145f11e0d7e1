package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/pkg/errors"
	"github.com/everettbu/chatsafe/pkg/safego"
)

// idleExpiry is how long an idle IP keeps its state before the cleanup loop
// drops it.
const idleExpiry = 5 * time.Minute

// Config holds the rate limiter knobs.
type Config struct {
	PerIPPerMinute     int
	MaxConcurrentPerIP int
	GlobalPerMinute    int
	CleanupInterval    time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		PerIPPerMinute:     60,
		MaxConcurrentPerIP: 5,
		GlobalPerMinute:    600,
		CleanupInterval:    time.Minute,
	}
}

// tokenBucket refills lazily at consume time.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *tokenBucket) tryConsume(n float64, now time.Time) bool {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

func (b *tokenBucket) refund(n float64) {
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

type ipState struct {
	bucket     *tokenBucket
	concurrent int
	lastSeen   time.Time
}

// Limiter enforces three overlapping limits: a per-IP rate bucket, a per-IP
// concurrency cap, and a global rate bucket shared by all IPs.
type Limiter struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*ipState

	globalMu sync.Mutex
	global   *tokenBucket
}

// New creates a limiter. Call StartCleanup to run the idle-state sweeper.
func New(cfg Config, logger *zap.Logger) *Limiter {
	return &Limiter{
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*ipState),
		global: newTokenBucket(cfg.GlobalPerMinute, float64(cfg.GlobalPerMinute)/60.0),
	}
}

// Acquire admits a request from ip or fails with a rate-limit error.
// It is a two-phase acquire: the per-IP bucket and concurrency slot are
// claimed first, then the global bucket. A global failure rolls the per-IP
// claim back so rejected requests leave no trace.
func (l *Limiter) Acquire(ip string) error {
	now := time.Now()

	// Phase A: per-IP.
	l.mu.Lock()
	st, ok := l.states[ip]
	if !ok {
		st = &ipState{
			bucket: newTokenBucket(l.cfg.PerIPPerMinute, float64(l.cfg.PerIPPerMinute)/60.0),
		}
		l.states[ip] = st
	}
	st.lastSeen = now
	if st.concurrent >= l.cfg.MaxConcurrentPerIP {
		l.mu.Unlock()
		return errors.NewRateLimitedError("too many concurrent requests from this IP")
	}
	if !st.bucket.tryConsume(1, now) {
		l.mu.Unlock()
		return errors.NewRateLimitedError("per-IP rate limit exceeded")
	}
	st.concurrent++
	l.mu.Unlock()

	// Phase B: global.
	l.globalMu.Lock()
	admitted := l.global.tryConsume(1, now)
	l.globalMu.Unlock()

	if !admitted {
		l.mu.Lock()
		if st, ok := l.states[ip]; ok {
			st.bucket.refund(1)
			if st.concurrent > 0 {
				st.concurrent--
			}
		}
		l.mu.Unlock()
		return errors.NewRateLimitedError("global rate limit exceeded")
	}

	return nil
}

// Release returns the concurrency slot for ip, saturating at zero. It must
// run on every terminal path of an admitted request.
func (l *Limiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.states[ip]; ok && st.concurrent > 0 {
		st.concurrent--
	}
}

// Stats reports the remaining bucket tokens and in-flight count for ip.
// An unseen IP reports a full bucket and zero in-flight.
func (l *Limiter) Stats(ip string) (tokens float64, concurrent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[ip]
	if !ok {
		return float64(l.cfg.PerIPPerMinute), 0
	}
	return st.bucket.tokens, st.concurrent
}

// TrackedIPs returns the number of IP-state entries currently retained.
func (l *Limiter) TrackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// StartCleanup runs the idle-state sweeper until ctx is cancelled.
func (l *Limiter) StartCleanup(ctx context.Context) {
	safego.Loop(ctx, l.logger, "ratelimit-cleanup", l.cfg.CleanupInterval, func() {
		removed := l.cleanupExpired(time.Now())
		if removed > 0 {
			l.logger.Debug("Dropped idle rate-limit entries", zap.Int("removed", removed))
		}
	})
}

func (l *Limiter) cleanupExpired(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, st := range l.states {
		if st.concurrent == 0 && now.Sub(st.lastSeen) >= idleExpiry {
			delete(l.states, ip)
			removed++
		}
	}
	return removed
}
