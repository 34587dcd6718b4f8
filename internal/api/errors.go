package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/auth"
	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/serp"
	"github.com/JakeFAU/proxyfetch/internal/storage"
)

const (
	internalErrorMessage = "internal server error"
	timeoutMessage       = "request timed out"
)

// statusFor maps domain errors to HTTP status codes. The second return is
// false for errors whose text must not reach the client.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, proxy.ErrUnknownRegion),
		errors.Is(err, proxy.ErrInvalidURL),
		errors.Is(err, serp.ErrUnsupportedEngine),
		errors.Is(err, serp.ErrEmptyQuery),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInactiveUser):
		return http.StatusBadRequest, true
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, true
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, true
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, true
	case errors.Is(err, proxy.ErrNoHealthyEndpoints):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, serp.ErrParse):
		return http.StatusInternalServerError, false
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, false
	default:
		return http.StatusInternalServerError, false
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, public := statusFor(err)
	msg := err.Error()
	switch {
	case errors.Is(err, serp.ErrParse):
		msg = serp.ErrParse.Error()
	case errors.Is(err, storage.ErrNotFound):
		msg = "not found"
	case errors.Is(err, context.DeadlineExceeded):
		msg = timeoutMessage
	case !public:
		msg = internalErrorMessage
	}
	logger := s.requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	s.writeError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
