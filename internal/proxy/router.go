package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/metrics"
)

const (
	defaultMaxRetries   = 3
	usageRecordTimeout  = 5 * time.Second
	usagePublishTimeout = 5 * time.Second
	unknownValue        = "unknown"
)

// RouterConfig tunes the failover loop.
type RouterConfig struct {
	// MaxRetries is the number of upstream attempts per region, cycling through its healthy endpoints.
	MaxRetries int
	// UsageTopic receives a UsageEvent after every served fetch. Empty disables publishing.
	UsageTopic string
}

// Router selects a healthy endpoint for a fetch, retrying with backoff and
// falling back to other regions when the preferred one is exhausted.
type Router struct {
	cfg       RouterConfig
	registry  *Registry
	prober    Prober
	upstream  Upstream
	usage     UsageRecorder
	publisher Publisher
	retry     RetryPolicy
	shuffler  Shuffler
	clock     Clock
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option customizes a Router.
type Option func(*Router)

// WithRetryPolicy overrides the default exponential backoff.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Router) { r.retry = p }
}

// WithShuffler overrides the random shuffler.
func WithShuffler(s Shuffler) Option {
	return func(r *Router) { r.shuffler = s }
}

// WithClock overrides time.Now.
func WithClock(c Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithPublisher enables usage event publishing.
func WithPublisher(p Publisher) Option {
	return func(r *Router) { r.publisher = p }
}

// NewRouter wires a Router. usage may be nil only for status-only callers
// such as the probe CLI.
func NewRouter(
	cfg RouterConfig,
	registry *Registry,
	prober Prober,
	upstream Upstream,
	usage UsageRecorder,
	logger *zap.Logger,
	opts ...Option,
) *Router {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		cfg:      cfg,
		registry: registry,
		prober:   prober,
		upstream: upstream,
		usage:    usage,
		retry:    NewExponentialRetryPolicy(0, 0, 100*time.Millisecond),
		shuffler: RandomShuffler{},
		clock:    systemClock{},
		logger:   logger,
		tracer:   otel.Tracer("github.com/JakeFAU/proxyfetch/internal/proxy"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry exposes the endpoint table the router was built with.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Status probes every endpoint of region and summarizes the batch.
func (r *Router) Status(ctx context.Context, region string) (RegionStatus, error) {
	if !r.registry.Has(region) {
		return RegionStatus{}, ErrUnknownRegion
	}
	ctx, span := r.tracer.Start(ctx, "proxy.Router.Status", trace.WithAttributes(attribute.String("region", region)))
	defer span.End()

	records := ProbeRegion(ctx, r.prober, region, r.registry.Endpoints(region))
	r.observeProbes(region, records)
	status := Summarize(region, records, r.clock.Now())
	span.SetAttributes(attribute.Int("healthy_endpoints", status.HealthyEndpoints))
	return status, nil
}

// Fetch serves req from the preferred region or, failing that, from any
// other region in random order. Usage is counted once, after success.
func (r *Router) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if !r.registry.Has(req.Region) {
		return FetchResult{}, ErrUnknownRegion
	}
	if err := ValidateTargetURL(req.URL); err != nil {
		return FetchResult{}, err
	}
	ctx, span := r.tracer.Start(ctx, "proxy.Router.Fetch", trace.WithAttributes(
		attribute.String("region.requested", req.Region),
		attribute.String("target.host", metrics.SanitizeSite(req.URL)),
	))
	defer span.End()

	logger := r.logger.With(zap.String("region", req.Region), zap.String("token_id", req.Token.ID.String()))
	logger.Debug("proxy fetch requested", zap.String("url", req.URL))

	attempts := 0
	for i, region := range r.regionOrder(req.Region) {
		if i > 0 {
			metrics.ObserveFallback(req.Region, region)
			logger.Warn("falling back to another region", zap.String("fallback_region", region))
		}
		result, n, ok := r.tryRegion(ctx, region, req)
		attempts += n
		if ok {
			result.Attempts = attempts
			span.SetAttributes(attribute.String("region.used", region), attribute.Int("attempts", attempts))
			r.recordUsage(ctx, req, result, logger)
			return result, nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "canceled")
			return FetchResult{}, fmt.Errorf("proxy fetch aborted: %w", ctx.Err())
		}
	}

	logger.Error("all proxy fetch attempts failed", zap.Int("attempts", attempts))
	metrics.ObserveFetch(req.Region, "unavailable")
	span.SetStatus(codes.Error, ErrNoHealthyEndpoints.Error())
	return FetchResult{}, ErrNoHealthyEndpoints
}

// regionOrder puts preferred first and shuffles the rest.
func (r *Router) regionOrder(preferred string) []string {
	others := make([]string, 0, len(r.registry.names))
	for _, name := range r.registry.Regions() {
		if name != preferred {
			others = append(others, name)
		}
	}
	r.shuffler.Shuffle(others)
	return append([]string{preferred}, others...)
}

func (r *Router) tryRegion(ctx context.Context, region string, req FetchRequest) (FetchResult, int, bool) {
	records := ProbeRegion(ctx, r.prober, region, r.registry.Endpoints(region))
	r.observeProbes(region, records)
	healthy := HealthyEndpoints(records)
	if len(healthy) == 0 {
		r.logger.Warn("no healthy endpoints in region", zap.String("region", region))
		return FetchResult{}, 0, false
	}
	r.shuffler.Shuffle(healthy)

	budget := r.cfg.MaxRetries
	for attempt := 1; attempt <= budget; attempt++ {
		endpoint := healthy[(attempt-1)%len(healthy)]
		endpointID := r.registry.EndpointID(region, endpoint)
		payload, err := r.upstream.Fetch(ctx, endpoint, req.URL, req.UserAgent)
		if err == nil {
			metrics.ObserveAttempt(region, "success")
			r.logger.Info("proxy fetch succeeded",
				zap.String("region", region),
				zap.String("endpoint_id", endpointID),
				zap.Int("attempt", attempt),
			)
			return toResult(payload, region, endpoint), attempt, true
		}
		metrics.ObserveAttempt(region, "failure")
		r.logger.Warn("proxy fetch attempt failed",
			zap.String("region", region),
			zap.String("endpoint_id", endpointID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == budget {
			break
		}
		delay := r.retry.Backoff(attempt - 1)
		r.logger.Debug("backing off before next attempt", zap.Duration("delay", delay))
		if err := Sleep(ctx, delay); err != nil {
			return FetchResult{}, attempt, false
		}
	}
	return FetchResult{}, budget, false
}

func (r *Router) recordUsage(ctx context.Context, req FetchRequest, result FetchResult, logger *zap.Logger) {
	metrics.ObserveFetch(req.Region, "success")
	recorded := false
	if r.usage != nil {
		usageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageRecordTimeout)
		err := r.usage.IncrementUsage(usageCtx, req.Token.ID.String())
		cancel()
		if err != nil {
			// The caller still gets the data; accounting failures are only reported.
			metrics.ObserveUsageRecord("error")
			logger.Error("failed to record usage", zap.Error(err))
		} else {
			metrics.ObserveUsageRecord("ok")
			recorded = true
		}
	}
	if r.publisher == nil || r.cfg.UsageTopic == "" {
		return
	}
	evt := UsageEvent{
		TokenID:         req.Token.ID.String(),
		UserID:          req.Token.UserID.String(),
		URL:             req.URL,
		RegionRequested: req.Region,
		RegionUsed:      result.RegionUsed,
		EndpointID:      r.registry.EndpointID(result.RegionUsed, result.Endpoint),
		Attempts:        result.Attempts,
		UsageRecorded:   recorded,
		At:              r.clock.Now(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usagePublishTimeout)
	defer cancel()
	if _, err := r.publisher.Publish(pubCtx, r.cfg.UsageTopic, evt); err != nil {
		logger.Warn("failed to publish usage event", zap.Error(err))
	}
}

func (r *Router) observeProbes(region string, records []HealthRecord) {
	for _, rec := range records {
		metrics.ObserveProbe(region, rec.Healthy, rec.ResponseTime)
	}
}

func toResult(payload UpstreamPayload, region, endpoint string) FetchResult {
	result := FetchResult{
		PublicIP:   payload.PublicIP,
		DeviceID:   payload.DeviceID,
		RegionUsed: region,
		Endpoint:   endpoint,
	}
	if payload.Result != nil {
		result.Result = *payload.Result
	}
	if result.PublicIP == "" {
		result.PublicIP = unknownValue
	}
	if result.DeviceID == "" {
		result.DeviceID = unknownValue
	}
	return result
}

// ValidateTargetURL accepts only absolute http(s) URLs with a host.
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Join(ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
