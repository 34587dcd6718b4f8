package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/storage"
)

const (
	previewLength      = 8
	previewSeparator   = "..."
	minPasswordLength  = 8
	defaultTrialPeriod = 7 * 24 * time.Hour
)

var (
	// ErrInvalidCredentials is returned by Login for unknown emails and bad passwords alike.
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrInactiveUser is returned by Login for disabled accounts.
	ErrInactiveUser = errors.New("inactive user")
	// ErrInvalidInput marks malformed signup fields or key previews.
	ErrInvalidInput = errors.New("invalid input")
)

// UUIDGenerator creates primary keys.
type UUIDGenerator interface {
	NewUUID() (uuid.UUID, error)
}

// AccountsConfig tunes signup and hashing.
type AccountsConfig struct {
	TrialPeriod time.Duration
	BcryptCost  int
}

// KeySummary is the listing view of an API key; the full key is never
// shown again after creation.
type KeySummary struct {
	KeyPreview   string    `json:"key_preview"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Active       bool      `json:"is_active"`
	RequestCount int64     `json:"request_count"`
}

// Accounts implements signup, login and the API key lifecycle.
type Accounts struct {
	cfg        AccountsConfig
	issuer     *Issuer
	authorizer *Authorizer
	users      storage.UserStore
	tokens     storage.TokenStore
	ids        UUIDGenerator
	clock      Clock
	logger     *zap.Logger
}

// NewAccounts wires an Accounts service.
func NewAccounts(
	cfg AccountsConfig,
	issuer *Issuer,
	authorizer *Authorizer,
	users storage.UserStore,
	tokens storage.TokenStore,
	ids UUIDGenerator,
	clock Clock,
	logger *zap.Logger,
) *Accounts {
	if cfg.TrialPeriod <= 0 {
		cfg.TrialPeriod = defaultTrialPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accounts{
		cfg:        cfg,
		issuer:     issuer,
		authorizer: authorizer,
		users:      users,
		tokens:     tokens,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}
}

// Signup creates an active account with a fresh trial.
func (a *Accounts) Signup(ctx context.Context, email, password, fullName string) (proxy.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return proxy.User{}, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return proxy.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := HashPassword(password, a.cfg.BcryptCost)
	if err != nil {
		return proxy.User{}, err
	}
	id, err := a.ids.NewUUID()
	if err != nil {
		return proxy.User{}, err
	}
	now := a.clock.Now()
	expiry := now.Add(a.cfg.TrialPeriod)
	user := proxy.User{
		ID:             id,
		Email:          strings.ToLower(addr.Address),
		FullName:       strings.TrimSpace(fullName),
		HashedPassword: hash,
		Active:         true,
		Trial:          true,
		ExpiryDate:     &expiry,
		CreatedAt:      now,
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return proxy.User{}, err
	}
	a.logger.Info("user signed up", zap.String("user_id", id.String()))
	return user, nil
}

// Login checks credentials and returns a session token and its expiry.
func (a *Accounts) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := a.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", time.Time{}, ErrInvalidCredentials
		}
		return "", time.Time{}, err
	}
	if !CheckPassword(user.HashedPassword, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !user.Active || user.Deactivated {
		return "", time.Time{}, ErrInactiveUser
	}
	return a.issuer.IssueSession(user.ID)
}

// User loads an active account by id.
func (a *Accounts) User(ctx context.Context, id uuid.UUID) (proxy.User, error) {
	return a.authorizer.loadActiveUser(ctx, id)
}

// GenerateAPIKey issues and stores a new key for an entitled user. The full
// key is returned only here.
func (a *Accounts) GenerateAPIKey(ctx context.Context, user proxy.User) (string, proxy.APIToken, error) {
	if err := a.authorizer.CheckEntitlement(user); err != nil {
		return "", proxy.APIToken{}, err
	}
	id, err := a.ids.NewUUID()
	if err != nil {
		return "", proxy.APIToken{}, err
	}
	key, expires, err := a.issuer.IssueAPIKey(user.ID, id)
	if err != nil {
		return "", proxy.APIToken{}, err
	}
	token := proxy.APIToken{
		ID:        id,
		UserID:    user.ID,
		Token:     key,
		CreatedAt: a.clock.Now(),
		ExpiresAt: expires,
		Active:    true,
	}
	if err := a.tokens.CreateToken(ctx, token); err != nil {
		return "", proxy.APIToken{}, fmt.Errorf("store API key: %w", err)
	}
	a.logger.Info("API key generated", zap.String("user_id", user.ID.String()), zap.String("key_prefix", KeyPrefix(key)))
	return key, token, nil
}

// ListAPIKeys returns previews of the user's active keys.
func (a *Accounts) ListAPIKeys(ctx context.Context, user proxy.User) ([]KeySummary, error) {
	if err := a.authorizer.CheckEntitlement(user); err != nil {
		return nil, err
	}
	tokens, err := a.tokens.ListActiveTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out := make([]KeySummary, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, KeySummary{
			KeyPreview:   Preview(t.Token),
			CreatedAt:    t.CreatedAt,
			ExpiresAt:    t.ExpiresAt,
			Active:       t.Active,
			RequestCount: t.RequestCount,
		})
	}
	return out, nil
}

// DeleteAPIKey hard-deletes the user's key identified by a start...end preview.
func (a *Accounts) DeleteAPIKey(ctx context.Context, user proxy.User, preview string) error {
	if err := a.authorizer.CheckEntitlement(user); err != nil {
		return err
	}
	prefix, suffix, err := ParsePreview(preview)
	if err != nil {
		return err
	}
	deleted, err := a.tokens.DeleteToken(ctx, user.ID, prefix, suffix)
	if err != nil {
		return err
	}
	a.logger.Info("API key deleted",
		zap.String("user_id", user.ID.String()),
		zap.String("key_preview", Preview(deleted.Token)),
		zap.Int64("request_count", deleted.RequestCount),
	)
	return nil
}

// Preview renders the first and last eight characters of key.
func Preview(key string) string {
	if len(key) <= 2*previewLength {
		return key
	}
	return key[:previewLength] + previewSeparator + key[len(key)-previewLength:]
}

// ParsePreview splits a preview produced by Preview.
func ParsePreview(preview string) (prefix, suffix string, err error) {
	prefix, suffix, found := strings.Cut(preview, previewSeparator)
	if !found || prefix == "" || suffix == "" {
		return "", "", fmt.Errorf("%w: invalid key preview format", ErrInvalidInput)
	}
	return prefix, suffix, nil
}

// KeyPrefix is the part of a key that is safe to log.
func KeyPrefix(key string) string {
	if len(key) <= previewLength {
		return key
	}
	return key[:previewLength]
}
