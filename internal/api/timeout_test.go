package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
)

type allowAllAuth struct{}

func (allowAllAuth) AuthorizeAPIKey(context.Context, string) (proxy.User, proxy.APIToken, error) {
	return proxy.User{ID: uuid.New(), Active: true}, proxy.APIToken{ID: uuid.New()}, nil
}

func (allowAllAuth) AuthenticateSession(context.Context, string) (proxy.User, error) {
	return proxy.User{ID: uuid.New(), Active: true}, nil
}

// stallingProxy blocks every call until the request context ends, the way
// the router does while backing off.
type stallingProxy struct{}

func (stallingProxy) Fetch(ctx context.Context, _ proxy.FetchRequest) (proxy.FetchResult, error) {
	<-ctx.Done()
	return proxy.FetchResult{}, fmt.Errorf("proxy fetch aborted: %w", ctx.Err())
}

func (stallingProxy) Status(ctx context.Context, _ string) (proxy.RegionStatus, error) {
	<-ctx.Done()
	return proxy.RegionStatus{}, nil
}

func (stallingProxy) Registry() *proxy.Registry { return nil }

func newStallingServer() *Server {
	return NewServer(Deps{Proxy: stallingProxy{}, Auth: allowAllAuth{}},
		Options{RequestTimeout: 50 * time.Millisecond}, zap.NewNop())
}

func TestRequestTimeoutIsGatewayTimeout(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/v1/proxy/fetch?region=lab",
		strings.NewReader(`{"url":"https://example.com"}`))
	req.Header.Set(APIKeyHeader, "any")
	rec := httptest.NewRecorder()

	start := time.Now()
	newStallingServer().Handler().ServeHTTP(rec, req)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.NotEqual(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "request timed out", body["error"])
}

func TestTimeoutMiddlewareAnswersSilentHandler(t *testing.T) {
	t.Parallel()

	s := newStallingServer()
	silent := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	rec := httptest.NewRecorder()
	s.timeoutMiddleware(20*time.Millisecond)(silent).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timed out")
}

func TestTimeoutMiddlewareLeavesWrittenResponse(t *testing.T) {
	t.Parallel()

	s := newStallingServer()
	late := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusAccepted)
	})
	rec := httptest.NewRecorder()
	s.timeoutMiddleware(20*time.Millisecond)(late).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}
