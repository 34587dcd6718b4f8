// Package ratelimit throttles proxy requests per API token.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// Remaining is the number of requests left in the current window, or -1
	// when the backend cannot tell.
	Remaining int
	// RetryAfter is how long a rejected caller should wait.
	RetryAfter time.Duration
}

// Limiter decides whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Unlimited lets everything through.
type Unlimited struct{}

// Allow always allows.
func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}

// Name labels the backend in metrics.
func (Unlimited) Name() string { return "none" }
