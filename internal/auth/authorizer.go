package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/storage"
)

var (
	// ErrUnauthorized covers missing or invalid credentials and inactive users.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the user is known but lacks a subscription or live trial.
	ErrForbidden = errors.New("active subscription or trial required")
)

// Policy decides who may consume proxy quota.
type Policy struct {
	// AllowTrial lets users with an unexpired trial through without a subscription.
	AllowTrial bool
}

// Authorizer resolves credentials to users and applies Policy.
type Authorizer struct {
	issuer *Issuer
	users  storage.UserStore
	tokens storage.TokenStore
	policy Policy
	clock  Clock
	logger *zap.Logger
}

// NewAuthorizer wires an Authorizer.
func NewAuthorizer(issuer *Issuer, users storage.UserStore, tokens storage.TokenStore, policy Policy, clock Clock, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{issuer: issuer, users: users, tokens: tokens, policy: policy, clock: clock, logger: logger}
}

// AuthorizeAPIKey verifies key, loads its token row and owner, and checks
// the owner is entitled to proxy access.
func (a *Authorizer) AuthorizeAPIKey(ctx context.Context, key string) (proxy.User, proxy.APIToken, error) {
	if key == "" {
		return proxy.User{}, proxy.APIToken{}, fmt.Errorf("%w: API key required", ErrUnauthorized)
	}
	logger := a.logger.With(zap.String("key_prefix", KeyPrefix(key)))

	userID, err := a.issuer.ParseAPIKey(key)
	if err != nil {
		logger.Info("rejected API key", zap.Error(err))
		return proxy.User{}, proxy.APIToken{}, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	}
	token, err := a.tokens.GetActiveToken(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Info("API key is not active")
			return proxy.User{}, proxy.APIToken{}, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
		}
		return proxy.User{}, proxy.APIToken{}, fmt.Errorf("load API token: %w", err)
	}
	if token.UserID != userID || !token.ExpiresAt.After(a.clock.Now()) {
		logger.Info("API key does not match its token row")
		return proxy.User{}, proxy.APIToken{}, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	}

	user, err := a.loadActiveUser(ctx, userID)
	if err != nil {
		return proxy.User{}, proxy.APIToken{}, err
	}
	if err := a.CheckEntitlement(user); err != nil {
		logger.Info("user lacks active subscription or trial", zap.String("user_id", user.ID.String()))
		return proxy.User{}, proxy.APIToken{}, err
	}
	return user, token, nil
}

// AuthenticateSession resolves a session token to an active user.
func (a *Authorizer) AuthenticateSession(ctx context.Context, token string) (proxy.User, error) {
	if token == "" {
		return proxy.User{}, fmt.Errorf("%w: not authenticated", ErrUnauthorized)
	}
	userID, err := a.issuer.ParseSession(token)
	if err != nil {
		return proxy.User{}, fmt.Errorf("%w: could not validate credentials", ErrUnauthorized)
	}
	return a.loadActiveUser(ctx, userID)
}

// CheckEntitlement applies the subscription/trial policy to user.
func (a *Authorizer) CheckEntitlement(user proxy.User) error {
	if user.HasSubscription {
		return nil
	}
	if a.policy.AllowTrial && user.InTrial(a.clock.Now()) {
		return nil
	}
	return ErrForbidden
}

func (a *Authorizer) loadActiveUser(ctx context.Context, id uuid.UUID) (proxy.User, error) {
	user, err := a.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return proxy.User{}, fmt.Errorf("%w: invalid or inactive user", ErrUnauthorized)
		}
		return proxy.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active || user.Deactivated {
		return proxy.User{}, fmt.Errorf("%w: invalid or inactive user", ErrUnauthorized)
	}
	return user, nil
}
