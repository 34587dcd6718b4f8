package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/storage"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type apiKeyResponse struct {
	APIKey    string    `json:"api_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// login accepts an OAuth2 password form (username, password) or the same
// fields as JSON and returns a Bearer session token.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid form")
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}
	email := req.Username
	if email == "" {
		email = req.Email
	}
	if email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, expires, err := s.deps.Accounts.Login(r.Context(), email, req.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer", ExpiresAt: expires})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	user, err := s.deps.Accounts.Signup(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.writeError(w, http.StatusConflict, "a user with this email already exists")
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) generateAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	key, token, err := s.deps.Accounts.GenerateAPIKey(r.Context(), user)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiKeyResponse{APIKey: key, ExpiresAt: token.ExpiresAt})
}

func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	keys, err := s.deps.Accounts.ListAPIKeys(r.Context(), user)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keys)
}

func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	preview := chi.URLParam(r, "key_preview")
	if err := s.deps.Accounts.DeleteAPIKey(r.Context(), user, preview); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	s.requestLogger(r).Info("API key deleted via API", zap.String("key_preview", preview))
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}
