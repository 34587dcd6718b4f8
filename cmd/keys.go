package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/proxyfetch/internal/auth"
	"github.com/JakeFAU/proxyfetch/internal/clock/system"
	idgen "github.com/JakeFAU/proxyfetch/internal/id/uuid"
	"github.com/JakeFAU/proxyfetch/internal/server"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysIssueCmd(), newKeysListCmd())
	return cmd
}

func newKeysIssueCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new API key for an entitled user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, userID, func(accounts *auth.Accounts, userUUID uuid.UUID, e *env) error {
				user, err := accounts.User(cmd.Context(), userUUID)
				if err != nil {
					return err
				}
				key, token, err := accounts.GenerateAPIKey(cmd.Context(), user)
				if err != nil {
					return err
				}
				return json.NewEncoder(e.out).Encode(map[string]any{
					"api_key":    key,
					"expires_at": token.ExpiresAt,
				})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "owner of the key")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's active API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, userID, func(accounts *auth.Accounts, userUUID uuid.UUID, e *env) error {
				user, err := accounts.User(cmd.Context(), userUUID)
				if err != nil {
					return err
				}
				keys, err := accounts.ListAPIKeys(cmd.Context(), user)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(e.out)
				enc.SetIndent("", "  ")
				return enc.Encode(keys)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "owner of the keys")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func withAccounts(cmd *cobra.Command, rawUserID string, fn func(*auth.Accounts, uuid.UUID, *env) error) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	userUUID, err := uuid.Parse(rawUserID)
	if err != nil {
		return fmt.Errorf("invalid --user-id: %w", err)
	}
	if e.cfg.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required to manage keys")
	}
	store, _, closeFn, err := server.OpenAccountStore(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer closeFn()

	_, _, accounts, err := server.BuildAuth(e.cfg, store, system.New(), idgen.New(), e.logger)
	if err != nil {
		return err
	}
	return fn(accounts, userUUID, e)
}
