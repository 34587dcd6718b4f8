package proxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	east1 = "https://east1.example.com/main"
	east2 = "https://east2.example.com/main"
	east3 = "https://east3.example.com/main"
	west1 = "https://west1.example.com/main"
	eu1   = "https://eu1.example.com/main"
)

type constBackoff time.Duration

func (c constBackoff) Backoff(int) time.Duration { return time.Duration(c) }

type recordingBackoff struct {
	attempts []int
}

func (b *recordingBackoff) Backoff(attempt int) time.Duration {
	b.attempts = append(b.attempts, attempt)
	return 0
}

type routerFixture struct {
	router   *Router
	prober   *fakeProber
	upstream *fakeUpstream
	usage    *fakeUsage
	token    APIToken
}

func newRouterFixture(t *testing.T, healthy map[string]bool, opts ...Option) *routerFixture {
	t.Helper()
	reg, err := NewRegistry(map[string][]string{
		"us-east": {east1, east2, east3},
		"us-west": {west1},
		"europe":  {eu1},
		"empty":   {},
	})
	require.NoError(t, err)

	f := &routerFixture{
		prober:   newFakeProber(healthy),
		upstream: newFakeUpstream(),
		usage:    &fakeUsage{},
		token:    APIToken{ID: uuid.New(), UserID: uuid.New(), Active: true},
	}
	base := []Option{WithShuffler(identityShuffler{}), WithRetryPolicy(NoBackoff{})}
	f.router = NewRouter(RouterConfig{}, reg, f.prober, f.upstream, f.usage, zap.NewNop(), append(base, opts...)...)
	return f
}

func (f *routerFixture) request(region string) FetchRequest {
	return FetchRequest{URL: "https://target.example.org/page", Region: region, UserAgent: "ua-test/1.0", Token: f.token}
}

func TestFetchPreferredRegionShortCircuits(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{east1: true, east2: true, east3: true, west1: true, eu1: true})

	res, err := f.router.Fetch(context.Background(), f.request("us-east"))
	require.NoError(t, err)

	assert.Equal(t, "us-east", res.RegionUsed)
	assert.Equal(t, "<html>"+east1+"</html>", res.Result)
	assert.Equal(t, "203.0.113.7", res.PublicIP)
	assert.Equal(t, "dev-1", res.DeviceID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 3, f.prober.Calls(), "only the preferred region is probed")
	require.Len(t, f.upstream.Calls(), 1)
	assert.Equal(t, "ua-test/1.0", f.upstream.Calls()[0].userAgent)
	assert.Equal(t, []string{f.token.ID.String()}, f.usage.calls)
}

func TestFetchSkipsUnhealthyEndpoints(t *testing.T) {
	// east2 times out during probing.
	f := newRouterFixture(t, map[string]bool{east1: true, east3: true})
	f.prober.latency[east2] = 5 * time.Second

	res, err := f.router.Fetch(context.Background(), f.request("us-east"))
	require.NoError(t, err)

	assert.Equal(t, "us-east", res.RegionUsed)
	for _, call := range f.upstream.Calls() {
		assert.NotEqual(t, east2, call.endpoint)
	}
	assert.Equal(t, 1, f.usage.Count())
}

func TestFetchRetriesWithinRegionAndCountsUsageOnce(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{west1: true})
	f.upstream.failures[west1] = 2

	res, err := f.router.Fetch(context.Background(), f.request("us-west"))
	require.NoError(t, err)

	assert.Equal(t, "us-west", res.RegionUsed)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, f.upstream.Calls(), 3)
	assert.Equal(t, 1, f.usage.Count())
}

func TestFetchFallsBackWhenPreferredRegionUnhealthy(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{eu1: true})

	res, err := f.router.Fetch(context.Background(), f.request("us-west"))
	require.NoError(t, err)

	assert.Equal(t, "europe", res.RegionUsed)
	assert.Equal(t, "<html>"+eu1+"</html>", res.Result)
	assert.Equal(t, 1, f.usage.Count())
}

func TestFetchFallsBackAfterExhaustingRetries(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{west1: true, eu1: true})
	f.upstream.failures[west1] = -1

	res, err := f.router.Fetch(context.Background(), f.request("us-west"))
	require.NoError(t, err)

	assert.Equal(t, "europe", res.RegionUsed)
	assert.Equal(t, 4, res.Attempts)
	calls := f.upstream.Calls()
	require.Len(t, calls, 4)
	for _, call := range calls[:3] {
		assert.Equal(t, west1, call.endpoint)
	}
	assert.Equal(t, eu1, calls[3].endpoint)
	assert.Equal(t, 1, f.usage.Count())
}

func TestFetchAllRegionsUnhealthy(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{})

	_, err := f.router.Fetch(context.Background(), f.request("us-east"))
	require.ErrorIs(t, err, ErrNoHealthyEndpoints)

	assert.Empty(t, f.upstream.Calls())
	assert.Zero(t, f.usage.Count())
	assert.Equal(t, 5, f.prober.Calls(), "every endpoint of every region is probed once")
}

func TestFetchUpstreamAlwaysFails(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{east1: true, east2: true, west1: true, eu1: true})
	for _, ep := range []string{east1, east2, west1, eu1} {
		f.upstream.failures[ep] = -1
	}

	_, err := f.router.Fetch(context.Background(), f.request("us-east"))
	require.ErrorIs(t, err, ErrNoHealthyEndpoints)

	assert.Len(t, f.upstream.Calls(), 3*3, "three attempts per region with healthy endpoints")
	assert.Zero(t, f.usage.Count())
}

func TestFetchRetryBudgetIsPerRegionNotPerEndpoint(t *testing.T) {
	delays := &recordingBackoff{}
	f := newRouterFixture(t, map[string]bool{east1: true, east2: true, east3: true, west1: true}, WithRetryPolicy(delays))
	for _, ep := range []string{east1, east2, east3} {
		f.upstream.failures[ep] = -1
	}

	res, err := f.router.Fetch(context.Background(), f.request("us-east"))
	require.NoError(t, err)

	assert.Equal(t, "us-west", res.RegionUsed)
	assert.Equal(t, 4, res.Attempts)
	calls := f.upstream.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{east1, east2, east3, west1},
		[]string{calls[0].endpoint, calls[1].endpoint, calls[2].endpoint, calls[3].endpoint})
	assert.Equal(t, []int{0, 1}, delays.attempts, "no backoff after the last attempt in a region")
}

func TestFetchRetryBudgetCyclesEndpoints(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{east1: true, east2: true, west1: true})
	f.upstream.failures[east1] = 1
	f.upstream.failures[east2] = -1

	res, err := f.router.Fetch(context.Background(), f.request("us-east"))
	require.NoError(t, err)

	assert.Equal(t, "us-east", res.RegionUsed)
	assert.Equal(t, 3, res.Attempts)
	calls := f.upstream.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, east1, calls[2].endpoint, "wraps around to the first healthy endpoint")
}

func TestFetchUnknownRegionMakesNoCalls(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{east1: true})

	_, err := f.router.Fetch(context.Background(), f.request("mars"))
	require.ErrorIs(t, err, ErrUnknownRegion)

	assert.Zero(t, f.prober.Calls())
	assert.Empty(t, f.upstream.Calls())
	assert.Zero(t, f.usage.Count())
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{east1: true})
	req := f.request("us-east")
	req.URL = "ftp://example.com/file"

	_, err := f.router.Fetch(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidURL)
	assert.Zero(t, f.prober.Calls())
}

func TestFetchUsageFailureStillReturnsResult(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{east1: true})
	f.usage.err = errors.New("db down")

	res, err := f.router.Fetch(context.Background(), f.request("us-east"))
	require.NoError(t, err)

	assert.Equal(t, "us-east", res.RegionUsed)
	assert.Equal(t, 1, f.usage.Count())
}

func TestFetchDefaultsMissingFields(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{west1: true})
	f.upstream.responses[west1] = UpstreamPayload{}

	res, err := f.router.Fetch(context.Background(), f.request("us-west"))
	require.NoError(t, err)

	assert.Empty(t, res.Result)
	assert.Equal(t, "unknown", res.PublicIP)
	assert.Equal(t, "unknown", res.DeviceID)
}

func TestFetchPublishesUsageEvent(t *testing.T) {
	pub := &fakePublisher{}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newRouterFixture(t, map[string]bool{eu1: true}, WithPublisher(pub), WithClock(fixedClock{t: now}))
	f.router.cfg.UsageTopic = "proxy-usage"

	_, err := f.router.Fetch(context.Background(), f.request("us-west"))
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "proxy-usage", pub.topics[0])
	evt, ok := pub.events[0].(UsageEvent)
	require.True(t, ok)
	assert.Equal(t, "us-west", evt.RegionRequested)
	assert.Equal(t, "europe", evt.RegionUsed)
	assert.Equal(t, "europe_0", evt.EndpointID)
	assert.True(t, evt.UsageRecorded)
	assert.Equal(t, now, evt.At)
}

func TestFetchCanceledDuringBackoff(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{west1: true}, WithRetryPolicy(constBackoff(time.Hour)))
	f.upstream.failures[west1] = -1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.router.Fetch(ctx, f.request("us-west"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.upstream.Calls(), 1)
	assert.Zero(t, f.usage.Count())
}

func TestStatus(t *testing.T) {
	f := newRouterFixture(t, map[string]bool{east1: true, east3: true})
	f.prober.latency[east1] = 100 * time.Millisecond
	f.prober.latency[east2] = 5 * time.Second
	f.prober.latency[east3] = 300 * time.Millisecond

	status, err := f.router.Status(context.Background(), "us-east")
	require.NoError(t, err)

	assert.True(t, status.Healthy)
	assert.Equal(t, 2, status.HealthyEndpoints)
	assert.Equal(t, 3, status.TotalEndpoints)
	assert.InDelta(t, 1.8, status.AvgResponseTime, 1e-9)
	assert.Equal(t, f.prober.at, status.LastChecked)
}

func TestStatusEmptyRegion(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newRouterFixture(t, nil, WithClock(fixedClock{t: now}))

	status, err := f.router.Status(context.Background(), "empty")
	require.NoError(t, err)

	assert.False(t, status.Healthy)
	assert.Zero(t, status.TotalEndpoints)
	assert.Zero(t, status.AvgResponseTime)
	assert.Equal(t, now, status.LastChecked)
}

func TestStatusUnknownRegion(t *testing.T) {
	f := newRouterFixture(t, nil)

	_, err := f.router.Status(context.Background(), "mars")
	require.ErrorIs(t, err, ErrUnknownRegion)
	assert.Zero(t, f.prober.Calls())
}

func TestValidateTargetURL(t *testing.T) {
	require.NoError(t, ValidateTargetURL("https://example.com/a?b=c"))
	require.NoError(t, ValidateTargetURL("http://example.com"))
	require.ErrorIs(t, ValidateTargetURL("example.com"), ErrInvalidURL)
	require.ErrorIs(t, ValidateTargetURL("http://%zz"), ErrInvalidURL)
	require.ErrorIs(t, ValidateTargetURL(""), ErrInvalidURL)
}
