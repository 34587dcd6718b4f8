package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id               UUID PRIMARY KEY,
	email            TEXT NOT NULL UNIQUE,
	full_name        TEXT NOT NULL DEFAULT '',
	hashed_password  TEXT NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	is_superuser     BOOLEAN NOT NULL DEFAULT FALSE,
	has_subscription BOOLEAN NOT NULL DEFAULT FALSE,
	is_trial         BOOLEAN NOT NULL DEFAULT FALSE,
	is_deactivated   BOOLEAN NOT NULL DEFAULT FALSE,
	expiry_date      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS api_tokens (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token         TEXT NOT NULL UNIQUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	request_count BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS api_tokens_user_id_idx ON api_tokens (user_id)`,
}

// Migrate creates the tables this service needs. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
