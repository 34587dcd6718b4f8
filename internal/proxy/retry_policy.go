package proxy

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"time"
)

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff:
// min(base*2^attempt + jitter, max).
type ExponentialRetryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	maxJitter time.Duration
}

// NewExponentialRetryPolicy builds a policy. Zero values fall back to
// 500ms base, 5s cap and 100ms jitter.
func NewExponentialRetryPolicy(base, maxDelay, jitter time.Duration) *ExponentialRetryPolicy {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if jitter < 0 {
		jitter = 0
	}
	return &ExponentialRetryPolicy{baseDelay: base, maxDelay: maxDelay, maxJitter: jitter}
}

// Backoff returns the wait duration after the given attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	delay += float64(p.randomJitter(p.maxJitter))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// NoBackoff never waits. Handy for tests and the CLI.
type NoBackoff struct{}

// Backoff always returns zero.
func (NoBackoff) Backoff(int) time.Duration { return 0 }

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// RandomShuffler shuffles with math/rand/v2.
type RandomShuffler struct{}

// Shuffle permutes items in place.
func (RandomShuffler) Shuffle(items []string) {
	mrand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
