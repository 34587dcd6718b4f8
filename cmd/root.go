// Package cmd defines the proxyfetch CLI.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/config"
	"github.com/JakeFAU/proxyfetch/internal/server"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType struct{}

// env is what every subcommand gets after the root pre-run hook.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	out    io.Writer
}

// loadConfig is a variable so tests can inject a config without a file.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "proxyfetch",
		Short: "Regional proxy-fetch service with health-based failover.",
		Long: `proxyfetch fronts a fleet of regional fetch workers. It probes worker
health, routes each fetch to a healthy endpoint in the preferred region,
falls back to other regions when needed, and meters usage per API key.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := server.NewLogger(cfg)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger, out: cmd.OutOrStdout()})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the PROXYFETCH_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newKeysCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, fmt.Errorf("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
