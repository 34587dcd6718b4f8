// Package server builds the application's dependencies from Config and runs
// the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcsclient "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/api"
	"github.com/JakeFAU/proxyfetch/internal/auth"
	"github.com/JakeFAU/proxyfetch/internal/clock/system"
	"github.com/JakeFAU/proxyfetch/internal/config"
	"github.com/JakeFAU/proxyfetch/internal/id/uuid"
	"github.com/JakeFAU/proxyfetch/internal/logging"
	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/publisher/async"
	gcppublisher "github.com/JakeFAU/proxyfetch/internal/publisher/pubsub"
	"github.com/JakeFAU/proxyfetch/internal/ratelimit"
	"github.com/JakeFAU/proxyfetch/internal/serp"
	"github.com/JakeFAU/proxyfetch/internal/storage"
	gcsstorage "github.com/JakeFAU/proxyfetch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/proxyfetch/internal/storage/local"
	memorystorage "github.com/JakeFAU/proxyfetch/internal/storage/memory"
	pgstore "github.com/JakeFAU/proxyfetch/internal/storage/postgres"
	"github.com/JakeFAU/proxyfetch/internal/telemetry"
	"github.com/JakeFAU/proxyfetch/internal/upstream"
)

// AccountStore is the persistence the auth services need.
type AccountStore interface {
	storage.UserStore
	storage.TokenStore
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer *api.Server
	router    *proxy.Router
	accounts  AccountStore

	telemetry    *telemetry.Providers
	db           *pgstore.Store
	redis        *redis.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	usageEvents  *async.Publisher
	gcs          *gcsclient.Client
}

// NewLogger builds the process logger from cfg and installs it globally.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Build creates every dependency of the HTTP service. On error, whatever
// was opened so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("regions", len(cfg.Regions)),
		zap.Bool("database", cfg.DB.DSN != ""),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.String("archive", cfg.Archive.Backend),
	)

	app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return app, fmt.Errorf("telemetry init failed: %w", err)
	}

	if err = app.setupAccounts(ctx); err != nil {
		return app, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return app, err
	}
	limiter, err := app.setupRateLimit()
	if err != nil {
		return app, err
	}

	clock := system.New()
	ids := uuid.New()

	app.router, err = BuildRouter(cfg, app.accounts, publisher, logger)
	if err != nil {
		return app, err
	}

	_, authorizer, accounts, err := BuildAuth(cfg, app.accounts, clock, ids, logger)
	if err != nil {
		return app, err
	}

	search := serp.NewService(app.router, archive, ids, clock, logger.Named("serp"))

	app.apiServer = api.NewServer(api.Deps{
		Proxy:    app.router,
		Search:   search,
		Auth:     authorizer,
		Accounts: accounts,
		Limiter:  limiter,
		Ready:    app.readinessChecks(),
	}, api.Options{
		RequestTimeout:   time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		DefaultUserAgent: cfg.Proxy.UserAgent,
	}, logger.Named("api"))

	return app, nil
}

// BuildRouter wires the fetch router over the HTTP worker client. usage and
// publisher may be nil for status-only callers.
func BuildRouter(cfg config.Config, usage proxy.UsageRecorder, publisher proxy.Publisher, logger *zap.Logger) (*proxy.Router, error) {
	registry, err := proxy.NewRegistry(cfg.Regions)
	if err != nil {
		return nil, fmt.Errorf("region registry init failed: %w", err)
	}
	client := upstream.New(upstream.Config{
		ProbeTimeout: cfg.Proxy.ProbeTimeout(),
		FetchTimeout: cfg.Proxy.FetchTimeout(),
	}, nil, system.New(), logger.Named("upstream"))

	base, maxDelay, jitter := cfg.Proxy.Backoff()
	opts := []proxy.Option{
		proxy.WithRetryPolicy(proxy.NewExponentialRetryPolicy(base, maxDelay, jitter)),
		proxy.WithClock(system.New()),
	}
	if publisher != nil {
		opts = append(opts, proxy.WithPublisher(publisher))
	}
	return proxy.NewRouter(proxy.RouterConfig{
		MaxRetries: cfg.Proxy.MaxRetries,
		UsageTopic: cfg.PubSub.UsageTopic,
	}, registry, client, client, usage, logger.Named("router"), opts...), nil
}

// BuildAuth wires the token issuer, authorizer and account service over store.
func BuildAuth(
	cfg config.Config,
	store AccountStore,
	clock auth.Clock,
	ids auth.UUIDGenerator,
	logger *zap.Logger,
) (*auth.Issuer, *auth.Authorizer, *auth.Accounts, error) {
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:     cfg.Auth.JWTSecret,
		SessionTTL: time.Duration(cfg.Auth.SessionTTLHours) * time.Hour,
		APIKeyTTL:  time.Duration(cfg.Auth.APIKeyTTLDays) * 24 * time.Hour,
	}, clock)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("token issuer init failed: %w", err)
	}
	authorizer := auth.NewAuthorizer(issuer, store, store,
		auth.Policy{AllowTrial: cfg.Auth.AllowTrial}, clock, logger.Named("auth"))
	accounts := auth.NewAccounts(auth.AccountsConfig{
		TrialPeriod: time.Duration(cfg.Auth.TrialDays) * 24 * time.Hour,
		BcryptCost:  cfg.Auth.BcryptCost,
	}, issuer, authorizer, store, store, ids, clock, logger.Named("accounts"))
	return issuer, authorizer, accounts, nil
}

// OpenAccountStore returns the Postgres store when a DSN is configured and
// an in-memory store otherwise. The returned close func is never nil.
func OpenAccountStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (AccountStore, *pgstore.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database DSN configured, accounts are kept in memory and lost on restart")
		return memorystorage.NewAccountStore(), nil, func() {}, nil
	}
	db, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, nil, func() {}, fmt.Errorf("postgres init failed: %w", err)
	}
	return db, db, db.Close, nil
}

func (a *App) setupAccounts(ctx context.Context) error {
	store, db, _, err := OpenAccountStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.accounts = store
	a.db = db
	if db != nil && a.cfg.DB.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
		a.logger.Info("database schema migrated")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (proxy.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.UsageTopic == "" {
		a.logger.Info("no Pub/Sub project configured, usage events are not published")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient, a.logger.Named("pubsub"))
	a.usageEvents = async.New(a.publisher, async.Config{
		BufferSize:   a.cfg.PubSub.BufferSize,
		MaxBatch:     a.cfg.PubSub.MaxBatchSize,
		MaxBatchWait: time.Duration(a.cfg.PubSub.BatchWaitMs) * time.Millisecond,
		Logger:       a.logger.Named("usage_events"),
	})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.UsageTopic),
	)
	return a.usageEvents, nil
}

func (a *App) setupArchive(ctx context.Context) (serp.Archive, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		var err error
		a.gcs, err = gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.gcs, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket, Prefix: a.cfg.Archive.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving result pages to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving result pages locally", zap.String("path", a.cfg.Archive.LocalDir))
		return store, nil
	case "memory":
		a.logger.Info("archiving result pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupRateLimit() (ratelimit.Limiter, error) {
	rl := a.cfg.RateLimit
	if !rl.Enabled {
		return ratelimit.Unlimited{}, nil
	}
	if rl.Backend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		limiter, err := ratelimit.NewRedis(a.redis, ratelimit.RedisConfig{Limit: rl.RequestsPerMinute, Window: time.Minute})
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter init failed: %w", err)
		}
		a.logger.Info("redis rate limiter enabled", zap.String("addr", a.cfg.Redis.Addr), zap.Int("requests_per_minute", rl.RequestsPerMinute))
		return limiter, nil
	}
	a.logger.Info("in-memory rate limiter enabled", zap.Int("requests_per_minute", rl.RequestsPerMinute), zap.Int("burst", rl.Burst))
	return ratelimit.NewMemory(ratelimit.MemoryConfig{
		RequestsPerSecond: float64(rl.RequestsPerMinute) / 60,
		Burst:             rl.Burst,
	}), nil
}

func (a *App) readinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if a.db != nil {
		checks["database"] = a.db.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Router exposes the fetch router.
func (a *App) Router() *proxy.Router {
	return a.router
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every client the app opened.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.usageEvents != nil {
		if err := a.usageEvents.Close(ctx); err != nil {
			a.logger.Warn("usage event drain incomplete", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
