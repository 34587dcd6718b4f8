package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/proxyfetch/internal/server"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users and api_tokens tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required to migrate")
			}
			_, db, closeFn, err := server.OpenAccountStore(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			e.logger.Info("database schema migrated")
			_, err = fmt.Fprintln(e.out, "migrations applied")
			return err
		},
	}
}
