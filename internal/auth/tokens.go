package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	kindSession = "session"
	kindAPIKey  = "api_key"

	defaultSessionTTL = 8 * 24 * time.Hour
	defaultAPIKeyTTL  = 365 * 24 * time.Hour
)

var (
	// ErrInvalidToken indicates a token is malformed, of the wrong kind or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// Clock is the time source for issuing and validating tokens.
type Clock interface {
	Now() time.Time
}

// Claims is the payload of both token kinds.
type Claims struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// IssuerConfig controls token signing.
type IssuerConfig struct {
	Secret     string
	SessionTTL time.Duration
	APIKeyTTL  time.Duration
}

// Issuer signs and parses session tokens and API keys.
type Issuer struct {
	secret     []byte
	sessionTTL time.Duration
	apiKeyTTL  time.Duration
	clock      Clock
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg IssuerConfig, clock Clock) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.APIKeyTTL <= 0 {
		cfg.APIKeyTTL = defaultAPIKeyTTL
	}
	return &Issuer{
		secret:     []byte(cfg.Secret),
		sessionTTL: cfg.SessionTTL,
		apiKeyTTL:  cfg.APIKeyTTL,
		clock:      clock,
	}, nil
}

// IssueSession signs a session token for userID.
func (i *Issuer) IssueSession(userID uuid.UUID) (string, time.Time, error) {
	return i.sign(userID, kindSession, "", i.sessionTTL)
}

// ParseSession validates a session token and returns its user.
func (i *Issuer) ParseSession(token string) (uuid.UUID, error) {
	claims, err := i.parse(token, kindSession)
	if err != nil {
		return uuid.Nil, err
	}
	return userIDFrom(claims)
}

// IssueAPIKey signs a new API key. keyID becomes the jti claim, which keeps
// keys issued in the same second distinct.
func (i *Issuer) IssueAPIKey(userID, keyID uuid.UUID) (string, time.Time, error) {
	return i.sign(userID, kindAPIKey, keyID.String(), i.apiKeyTTL)
}

// ParseAPIKey validates an API key and returns its user.
func (i *Issuer) ParseAPIKey(key string) (uuid.UUID, error) {
	claims, err := i.parse(key, kindAPIKey)
	if err != nil {
		return uuid.Nil, err
	}
	return userIDFrom(claims)
}

func (i *Issuer) sign(userID uuid.UUID, kind, jti string, ttl time.Duration) (string, time.Time, error) {
	now := i.clock.Now().UTC()
	expires := now.Add(ttl)
	claims := Claims{
		UserID: userID.String(),
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expires, nil
}

func (i *Issuer) parse(raw, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func userIDFrom(claims *Claims) (uuid.UUID, error) {
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
