// Package storage defines the persistence contracts for accounts and API
// tokens. Implementations live in the postgres and memory subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("already exists")
)

// UserStore reads and creates accounts. Billing flags are written by the
// billing integration, not by this service.
type UserStore interface {
	CreateUser(ctx context.Context, user proxy.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (proxy.User, error)
	GetUserByEmail(ctx context.Context, email string) (proxy.User, error)
}

// TokenStore persists API tokens and their usage counters.
type TokenStore interface {
	CreateToken(ctx context.Context, token proxy.APIToken) error
	// GetActiveToken resolves the full key string to an active token row.
	GetActiveToken(ctx context.Context, key string) (proxy.APIToken, error)
	ListActiveTokens(ctx context.Context, userID uuid.UUID) ([]proxy.APIToken, error)
	// DeleteToken removes the first active token of userID whose key starts
	// with prefix and ends with suffix.
	DeleteToken(ctx context.Context, userID uuid.UUID, prefix, suffix string) (proxy.APIToken, error)
	// IncrementUsage adds one to the request counter of tokenID atomically.
	IncrementUsage(ctx context.Context, tokenID string) error
}
