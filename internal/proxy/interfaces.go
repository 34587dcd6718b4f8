package proxy

import (
	"context"
	"time"
)

// Prober checks the liveness of one endpoint. Implementations never fail;
// every problem is folded into HealthRecord.Healthy.
type Prober interface {
	Probe(ctx context.Context, region, endpoint string) HealthRecord
}

// Upstream performs the fetch call against a worker endpoint.
type Upstream interface {
	Fetch(ctx context.Context, endpoint, targetURL, userAgent string) (UpstreamPayload, error)
}

// UsageRecorder atomically bumps the request counter of a token.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, tokenID string) error
}

// Publisher pushes usage events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy yields the delay before the next attempt.
type RetryPolicy interface {
	Backoff(attempt int) time.Duration
}

// Shuffler permutes a slice of strings in place.
type Shuffler interface {
	Shuffle(items []string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
