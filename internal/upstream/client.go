// Package upstream talks to the regional fetch workers. A worker exposes
// GET /health for liveness and POST /fetch, which retrieves a URL from the
// worker's own egress IP and answers with {result, public_ip, device_id}.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
)

const (
	// DefaultUserAgent is sent when the caller did not forward one.
	DefaultUserAgent = "proxyfetch-internal-fetcher/1.0"

	defaultProbeTimeout = 5 * time.Second
	defaultFetchTimeout = 15 * time.Second
	maxResponseBytes    = 16 << 20
)

// ErrStatus reports a non-2xx answer from a worker.
var ErrStatus = errors.New("unexpected upstream status")

// ErrMalformed reports a 2xx answer that is not the expected JSON document.
var ErrMalformed = errors.New("malformed upstream response")

// Config controls worker call timeouts.
type Config struct {
	ProbeTimeout time.Duration
	FetchTimeout time.Duration
}

// Clock is the time source used to stamp health records.
type Clock interface {
	Now() time.Time
}

// Client implements proxy.Prober and proxy.Upstream over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	clock  Clock
	logger *zap.Logger
}

// New builds a Client. A nil httpClient gets a pooled transport.
func New(cfg Config, httpClient *http.Client, clock Clock, logger *zap.Logger) *Client {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: newHTTPTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, clock: clock, logger: logger}
}

// Probe checks one endpoint. It never fails: transport errors, timeouts and
// non-2xx answers all produce an unhealthy record.
func (c *Client) Probe(ctx context.Context, region, endpoint string) proxy.HealthRecord {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	healthy := c.checkHealth(ctx, endpoint)
	return proxy.HealthRecord{
		Endpoint:     endpoint,
		Region:       region,
		Healthy:      healthy,
		ResponseTime: time.Since(start),
		CheckedAt:    c.clock.Now(),
	}
}

func (c *Client) checkHealth(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		c.logger.Warn("invalid health check request", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("health check failed", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}
	defer closeBody(resp.Body, c.logger)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type fetchBody struct {
	URL string `json:"url"`
}

// Fetch asks the worker at endpoint to retrieve targetURL.
func (c *Client) Fetch(ctx context.Context, endpoint, targetURL, userAgent string) (proxy.UpstreamPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	body, err := json.Marshal(fetchBody{URL: targetURL})
	if err != nil {
		return proxy.UpstreamPayload{}, fmt.Errorf("encode fetch body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/fetch", bytes.NewReader(body))
	if err != nil {
		return proxy.UpstreamPayload{}, fmt.Errorf("build fetch request: %w", err)
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return proxy.UpstreamPayload{}, fmt.Errorf("fetch via %s: %w", endpoint, err)
	}
	defer closeBody(resp.Body, c.logger)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return proxy.UpstreamPayload{}, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, endpoint)
	}

	var payload proxy.UpstreamPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return proxy.UpstreamPayload{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload.Result == nil {
		return proxy.UpstreamPayload{}, fmt.Errorf("%w: missing result", ErrMalformed)
	}
	return payload, nil
}

func closeBody(body io.Closer, logger *zap.Logger) {
	if err := body.Close(); err != nil {
		logger.Debug("failed to close upstream body", zap.Error(err))
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
