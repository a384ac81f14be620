package limiter

import (
	"context"
	"math"
	"sync"
	"time"
)

type state struct {
	tokens       float64
	lastRefillMs int64
	expiresAt    time.Time
}

// MemoryLimiter is an in-process implementation of the same protocol
// RedisLimiter runs as a script.
//
// It is safe for concurrent use by multiple goroutines, but its state is local
// to the process and is not shared across replicas. Buckets idle for longer
// than their TTL start over full, exactly like an expired Redis key.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*state
}

// NewMemoryLimiter constructs a MemoryLimiter with empty state.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*state),
	}
}

func (m *MemoryLimiter) Apply(ctx context.Context, key string, limit Limit, now time.Time) (Decision, error) {
	limit = limit.normalized()
	capacity := float64(limit.Capacity)
	cost := float64(limit.Cost)

	m.mu.Lock()
	defer m.mu.Unlock()

	st, exists := m.buckets[key]
	if !exists || !now.Before(st.expiresAt) {
		st = &state{tokens: capacity, lastRefillMs: now.UnixMilli()}
		m.buckets[key] = st
	}

	elapsed := float64(now.UnixMilli()-st.lastRefillMs) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	st.tokens = math.Min(capacity, st.tokens+elapsed*limit.RefillPerSec)

	allowed := false
	if st.tokens >= cost {
		st.tokens -= cost
		allowed = true
	}
	st.lastRefillMs = now.UnixMilli()
	st.expiresAt = now.Add(time.Duration(limit.ttlSeconds()) * time.Second)

	return Decision{
		Allow:     allowed,
		Remaining: st.tokens,
		ResetTime: resetTime(now, st.tokens, cost, limit.RefillPerSec),
	}, nil
}

// Evict drops buckets whose TTL has passed.
func (m *MemoryLimiter) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, st := range m.buckets {
		if !now.Before(st.expiresAt) {
			delete(m.buckets, key)
			n++
		}
	}
	return n
}

// Len reports how many buckets are held, expired ones included.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func resetTime(now time.Time, tokens, cost, refillPerSec float64) time.Time {
	if tokens >= cost {
		return time.UnixMilli(now.UnixMilli())
	}
	seconds := math.Ceil((cost - tokens) / refillPerSec)
	return time.UnixMilli(now.UnixMilli() + int64(seconds)*1000)
}
