package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(cfg Config) *Client {
	return New(cfg, nil, fixedClock{t: testNow}, zap.NewNop())
}

func TestProbeHealthy(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := newTestClient(Config{}).Probe(context.Background(), "us-east", srv.URL)

	assert.True(t, rec.Healthy)
	assert.Equal(t, srv.URL, rec.Endpoint)
	assert.Equal(t, "us-east", rec.Region)
	assert.Equal(t, testNow, rec.CheckedAt)
	assert.Positive(t, rec.ResponseTime)
}

func TestProbeNon2xxIsUnhealthy(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := newTestClient(Config{}).Probe(context.Background(), "eu", srv.URL)
	assert.False(t, rec.Healthy)
}

func TestProbeTimeoutIsUnhealthy(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := newTestClient(Config{ProbeTimeout: 50 * time.Millisecond}).Probe(context.Background(), "eu", srv.URL)

	assert.False(t, rec.Healthy)
	assert.GreaterOrEqual(t, rec.ResponseTime, 50*time.Millisecond)
}

func TestProbeUnreachableIsUnhealthy(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	rec := newTestClient(Config{}).Probe(context.Background(), "eu", endpoint)
	assert.False(t, rec.Healthy)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fetch", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "custom-agent/2.0", r.Header.Get("User-Agent"))
		var body fetchBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://target.example.org", body.URL)
		_, _ = w.Write([]byte(`{"result":"<html>ok</html>","public_ip":"198.51.100.4","device_id":"d-9"}`))
	}))
	defer srv.Close()

	payload, err := newTestClient(Config{}).Fetch(context.Background(), srv.URL, "https://target.example.org", "custom-agent/2.0")
	require.NoError(t, err)

	require.NotNil(t, payload.Result)
	assert.Equal(t, "<html>ok</html>", *payload.Result)
	assert.Equal(t, "198.51.100.4", payload.PublicIP)
	assert.Equal(t, "d-9", payload.DeviceID)
}

func TestFetchDefaultUserAgent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"result":""}`))
	}))
	defer srv.Close()

	payload, err := newTestClient(Config{}).Fetch(context.Background(), srv.URL, "https://target.example.org", "")
	require.NoError(t, err)
	require.NotNil(t, payload.Result)
	assert.Empty(t, *payload.Result)
	assert.Empty(t, payload.PublicIP)
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"server error", http.StatusBadGateway, `{"result":"x"}`, ErrStatus},
		{"not json", http.StatusOK, `<html>`, ErrMalformed},
		{"missing result", http.StatusOK, `{"public_ip":"1.2.3.4"}`, ErrMalformed},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(Config{}).Fetch(context.Background(), srv.URL, "https://target.example.org", "")
			require.ErrorIs(t, err, tc.target)
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(Config{FetchTimeout: 50 * time.Millisecond}).
		Fetch(context.Background(), srv.URL, "https://target.example.org", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
