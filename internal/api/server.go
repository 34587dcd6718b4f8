package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/auth"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/ratelimit"
	"github.com/JakeFAU/proxyfetch/internal/serp"
)

const defaultRequestTimeout = 120 * time.Second

// Proxy is the router surface the handlers use.
type Proxy interface {
	Fetch(ctx context.Context, req proxy.FetchRequest) (proxy.FetchResult, error)
	Status(ctx context.Context, region string) (proxy.RegionStatus, error)
	Registry() *proxy.Registry
}

// Searcher runs SERP queries.
type Searcher interface {
	Search(ctx context.Context, req serp.SearchRequest) (serp.Response, error)
}

// Authenticator resolves request credentials to users.
type Authenticator interface {
	AuthorizeAPIKey(ctx context.Context, key string) (proxy.User, proxy.APIToken, error)
	AuthenticateSession(ctx context.Context, token string) (proxy.User, error)
}

// AccountService implements signup, login and the API key lifecycle.
type AccountService interface {
	Signup(ctx context.Context, email, password, fullName string) (proxy.User, error)
	Login(ctx context.Context, email, password string) (string, time.Time, error)
	GenerateAPIKey(ctx context.Context, user proxy.User) (string, proxy.APIToken, error)
	ListAPIKeys(ctx context.Context, user proxy.User) ([]auth.KeySummary, error)
	DeleteAPIKey(ctx context.Context, user proxy.User, preview string) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators the server routes to.
type Deps struct {
	Proxy    Proxy
	Search   Searcher
	Auth     Authenticator
	Accounts AccountService
	// Limiter throttles the proxy surface per API token. Nil disables limiting.
	Limiter ratelimit.Limiter
	// Ready lists checks run by /readyz.
	Ready map[string]ReadinessCheck
}

// Options tune server behavior.
type Options struct {
	RequestTimeout time.Duration
	// DefaultUserAgent is forwarded to workers when the caller sends none.
	DefaultUserAgent string
}

// Server wires HTTP handlers to the proxy, SERP and account services.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	s := &Server{deps: deps, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/login/access-token", s.login)
		r.Post("/users/signup", s.signup)
		r.With(s.sessionMiddleware).Get("/users/me", s.me)

		r.Route("/proxy", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.sessionMiddleware)
				r.Post("/generate-api-key", s.generateAPIKey)
				r.Get("/api-keys", s.listAPIKeys)
				r.Delete("/api-keys/{key_preview}", s.deleteAPIKey)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.apiKeyMiddleware)
				r.Use(s.rateLimitMiddleware)
				r.Get("/regions", s.regions)
				r.Get("/status", s.regionStatus)
				r.Post("/fetch", s.fetch)
				r.Get("/serp", s.search)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			s.requestLogger(r).Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
