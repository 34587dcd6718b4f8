package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/storage"
)

// AccountStore implements storage.UserStore and storage.TokenStore.
type AccountStore struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]proxy.User
	tokens map[uuid.UUID]proxy.APIToken
}

var (
	_ storage.UserStore  = (*AccountStore)(nil)
	_ storage.TokenStore = (*AccountStore)(nil)
)

// NewAccountStore builds an empty store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		users:  make(map[uuid.UUID]proxy.User),
		tokens: make(map[uuid.UUID]proxy.APIToken),
	}
}

// CreateUser stores user. Emails are unique, case-insensitively.
func (s *AccountStore) CreateUser(_ context.Context, user proxy.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("user %s: %w", user.Email, storage.ErrConflict)
		}
	}
	s.users[user.ID] = user
	return nil
}

// PutUser inserts or replaces a user. Tests use it to flip billing flags.
func (s *AccountStore) PutUser(user proxy.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// GetUserByID returns the user or storage.ErrNotFound.
func (s *AccountStore) GetUserByID(_ context.Context, id uuid.UUID) (proxy.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return proxy.User{}, storage.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail returns the user or storage.ErrNotFound.
func (s *AccountStore) GetUserByEmail(_ context.Context, email string) (proxy.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return proxy.User{}, storage.ErrNotFound
}

// CreateToken stores a token. Keys are unique.
func (s *AccountStore) CreateToken(_ context.Context, token proxy.APIToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tokens {
		if existing.Token == token.Token {
			return fmt.Errorf("token: %w", storage.ErrConflict)
		}
	}
	s.tokens[token.ID] = token
	return nil
}

// GetActiveToken resolves a full key.
func (s *AccountStore) GetActiveToken(_ context.Context, key string) (proxy.APIToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, token := range s.tokens {
		if token.Active && token.Token == key {
			return token, nil
		}
	}
	return proxy.APIToken{}, storage.ErrNotFound
}

// ListActiveTokens returns the user's active tokens, oldest first.
func (s *AccountStore) ListActiveTokens(_ context.Context, userID uuid.UUID) ([]proxy.APIToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []proxy.APIToken
	for _, token := range s.tokens {
		if token.Active && token.UserID == userID {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteToken hard-deletes the oldest matching active token.
func (s *AccountStore) DeleteToken(_ context.Context, userID uuid.UUID, prefix, suffix string) (proxy.APIToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		match proxy.APIToken
		found bool
	)
	for _, token := range s.tokens {
		if !token.Active || token.UserID != userID {
			continue
		}
		if !strings.HasPrefix(token.Token, prefix) || !strings.HasSuffix(token.Token, suffix) {
			continue
		}
		if !found || token.CreatedAt.Before(match.CreatedAt) {
			match, found = token, true
		}
	}
	if !found {
		return proxy.APIToken{}, storage.ErrNotFound
	}
	delete(s.tokens, match.ID)
	return match, nil
}

// IncrementUsage bumps the counter under the store lock.
func (s *AccountStore) IncrementUsage(_ context.Context, tokenID string) error {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return fmt.Errorf("parse token id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	token.RequestCount++
	s.tokens[id] = token
	return nil
}
