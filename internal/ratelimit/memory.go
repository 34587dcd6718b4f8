package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryConfig holds token bucket parameters applied to every key.
type MemoryConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Memory keeps one token bucket per key in process memory. It suits a
// single replica; use Redis when the API runs behind a load balancer.
type Memory struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewMemory creates a Memory limiter. A non-positive rate disables limiting.
func NewMemory(cfg MemoryConfig) *Memory {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Memory{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket without waiting.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	limiter, ok := m.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(m.limit, m.burst)
		m.limiters[key] = limiter
	}
	m.mu.Unlock()

	now := m.now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: time.Second}, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(limiter.TokensAt(now))}, nil
}

// Name labels the backend in metrics.
func (m *Memory) Name() string { return "memory" }
