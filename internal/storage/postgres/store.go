// Package postgres persists accounts and API tokens in Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/storage"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements storage.UserStore and storage.TokenStore.
type Store struct {
	pool pool
}

var (
	_ storage.UserStore  = (*Store)(nil)
	_ storage.TokenStore = (*Store)(nil)
)

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const userColumns = `id, email, full_name, hashed_password, is_active, is_superuser,
	has_subscription, is_trial, is_deactivated, expiry_date, created_at`

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, user proxy.User) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		user.ID,
		strings.ToLower(user.Email),
		user.FullName,
		user.HashedPassword,
		user.Active,
		user.Superuser,
		user.HasSubscription,
		user.Trial,
		user.Deactivated,
		user.ExpiryDate,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, storage.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID loads a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (proxy.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail loads a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (proxy.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
	return scanUser(row)
}

func scanUser(row pgx.Row) (proxy.User, error) {
	var u proxy.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.HashedPassword,
		&u.Active,
		&u.Superuser,
		&u.HasSubscription,
		&u.Trial,
		&u.Deactivated,
		&u.ExpiryDate,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return proxy.User{}, storage.ErrNotFound
	}
	if err != nil {
		return proxy.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

const tokenColumns = `id, user_id, token, created_at, expires_at, is_active, request_count`

// CreateToken inserts a token row.
func (s *Store) CreateToken(ctx context.Context, token proxy.APIToken) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO api_tokens (`+tokenColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		token.ID,
		token.UserID,
		token.Token,
		token.CreatedAt,
		token.ExpiresAt,
		token.Active,
		token.RequestCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("token: %w", storage.ErrConflict)
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetActiveToken resolves a full key to its active row.
func (s *Store) GetActiveToken(ctx context.Context, key string) (proxy.APIToken, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE token = $1 AND is_active`, key)
	tok, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return proxy.APIToken{}, storage.ErrNotFound
	}
	return tok, err
}

// ListActiveTokens returns the user's active tokens, oldest first.
func (s *Store) ListActiveTokens(ctx context.Context, userID uuid.UUID) ([]proxy.APIToken, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM api_tokens
WHERE user_id = $1 AND is_active ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []proxy.APIToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return out, nil
}

// DeleteToken hard-deletes the oldest active token matching prefix...suffix.
func (s *Store) DeleteToken(ctx context.Context, userID uuid.UUID, prefix, suffix string) (proxy.APIToken, error) {
	row := s.pool.QueryRow(ctx, `DELETE FROM api_tokens WHERE id = (
	SELECT id FROM api_tokens
	WHERE user_id = $1 AND is_active AND starts_with(token, $2) AND right(token, $3) = $4
	ORDER BY created_at LIMIT 1
) RETURNING `+tokenColumns, userID, prefix, len(suffix), suffix)
	tok, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return proxy.APIToken{}, storage.ErrNotFound
	}
	return tok, err
}

// IncrementUsage adds one to request_count in its own transaction so the
// increment either commits once or not at all.
func (s *Store) IncrementUsage(ctx context.Context, tokenID string) (err error) {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return fmt.Errorf("parse token id: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `UPDATE api_tokens SET request_count = request_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

func scanToken(row pgx.Row) (proxy.APIToken, error) {
	var t proxy.APIToken
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.Active, &t.RequestCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return proxy.APIToken{}, err
		}
		return proxy.APIToken{}, fmt.Errorf("scan token: %w", err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
