// Package cmd defines and implements the CLI commands for the comicfeed executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/app"
	"github.com/JakeFAU/comicfeed/internal/config"
	"github.com/JakeFAU/comicfeed/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once the root hook has run.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can inject
// fake sources and a fake Telegram API.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "comicfeed",
		Short: "A Telegram bot that pushes new comic chapters to subscribers.",
		Long: `comicfeed watches comic and manga sites for new chapters of the titles its
users subscribed to, renders each new chapter into a document and delivers it
through Telegram.`,
		SilenceUsage: true,

		// Load config and logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and COMICFEED_* environment variables otherwise)")

	cmd.AddCommand(newRunCmd(), newScanCmd(), newMigrateCmd(), newSearchCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// withApp builds the application, runs fn and closes it again.
func withApp(ctx context.Context, e *env, fn func(*app.App) error) error {
	a, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			e.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()
	return fn(a)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "comicfeed: %v\n", err)
		os.Exit(1)
	}
}
