package proxy

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errUpstream = errors.New("upstream exploded")

type fakeProber struct {
	mu      sync.Mutex
	healthy map[string]bool
	latency map[string]time.Duration
	calls   []string
	at      time.Time
}

func newFakeProber(healthy map[string]bool) *fakeProber {
	return &fakeProber{healthy: healthy, latency: map[string]time.Duration{}, at: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (p *fakeProber) Probe(_ context.Context, region, endpoint string) HealthRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, endpoint)
	return HealthRecord{
		Endpoint:     endpoint,
		Region:       region,
		Healthy:      p.healthy[endpoint],
		ResponseTime: p.latency[endpoint],
		CheckedAt:    p.at,
	}
}

func (p *fakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type upstreamCall struct {
	endpoint  string
	url       string
	userAgent string
}

type fakeUpstream struct {
	mu        sync.Mutex
	calls     []upstreamCall
	failures  map[string]int // endpoint -> number of failures before success; -1 fails forever
	responses map[string]UpstreamPayload
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{failures: map[string]int{}, responses: map[string]UpstreamPayload{}}
}

func (u *fakeUpstream) Fetch(_ context.Context, endpoint, targetURL, userAgent string) (UpstreamPayload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, upstreamCall{endpoint: endpoint, url: targetURL, userAgent: userAgent})
	switch remaining := u.failures[endpoint]; {
	case remaining < 0:
		return UpstreamPayload{}, errUpstream
	case remaining > 0:
		u.failures[endpoint] = remaining - 1
		return UpstreamPayload{}, errUpstream
	}
	if payload, ok := u.responses[endpoint]; ok {
		return payload, nil
	}
	body := "<html>" + endpoint + "</html>"
	return UpstreamPayload{Result: &body, PublicIP: "203.0.113.7", DeviceID: "dev-1"}, nil
}

func (u *fakeUpstream) Calls() []upstreamCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]upstreamCall, len(u.calls))
	copy(out, u.calls)
	return out
}

type fakeUsage struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeUsage) IncrementUsage(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tokenID)
	return f.err
}

func (f *fakeUsage) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.events = append(f.events, payload)
	return "msg-1", nil
}

// identityShuffler keeps the input order so tests are deterministic.
type identityShuffler struct{}

func (identityShuffler) Shuffle([]string) {}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
