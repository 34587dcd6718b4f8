package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/logging"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/ratelimit"
)

// APIKeyHeader carries API keys on the proxy surface.
const APIKeyHeader = "X-API-Key"

type (
	requestIDKey struct{}
	userKey      struct{}
	tokenKey     struct{}
)

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		ctx = logging.WithLogger(ctx, s.logger.With(zap.String("request_id", reqID)))
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.requestLogger(r).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.requestLogger(r).Error("panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
				s.writeError(w, http.StatusInternalServerError, internalErrorMessage)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds the request context by d. Handlers surface the
// deadline as 504; a handler that wrote nothing by then gets a 504 here.
func (s *Server) timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			tw := &trackingWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))
			if !tw.wrote && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.requestLogger(r).Warn("request deadline exceeded", zap.Duration("timeout", d))
				s.writeError(w, http.StatusGatewayTimeout, timeoutMessage)
			}
		})
	}
}

// apiKeyMiddleware authenticates X-API-Key and stores the user and token on the context.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, token, err := s.deps.Auth.AuthorizeAPIKey(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = context.WithValue(ctx, tokenKey{}, token)
		ctx = logging.WithLogger(ctx, s.requestLogger(r).With(
			zap.String("user_id", user.ID.String()),
			zap.String("token_id", token.ID.String()),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionMiddleware authenticates a Bearer session token.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.deps.Auth.AuthenticateSession(r.Context(), bearerToken(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeDomainError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = logging.WithLogger(ctx, s.requestLogger(r).With(zap.String("user_id", user.ID.String())))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware throttles per API token. Limiter errors fail open.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := tokenFrom(r.Context())
		decision, err := s.deps.Limiter.Allow(r.Context(), token.ID.String())
		if err != nil {
			s.requestLogger(r).Warn("rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if decision.Remaining >= 0 {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		if !decision.Allowed {
			metrics.ObserveRateLimited(limiterName(s.deps.Limiter))
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return logging.FromContext(r.Context(), s.logger)
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func userFrom(ctx context.Context) (proxy.User, bool) {
	u, ok := ctx.Value(userKey{}).(proxy.User)
	return u, ok
}

func tokenFrom(ctx context.Context) (proxy.APIToken, bool) {
	t, ok := ctx.Value(tokenKey{}).(proxy.APIToken)
	return t, ok
}

func limiterName(l ratelimit.Limiter) string {
	if n, ok := l.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (tw *trackingWriter) WriteHeader(code int) {
	tw.wrote = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.wrote = true
	return tw.ResponseWriter.Write(b)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
