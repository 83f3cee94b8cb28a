package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/comicfeed/internal/app"
)

// newRunCmd creates the 'run' subcommand: the long-running bot.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the bot, the update loop and the admin API",
		Long: `Starts the Telegram front end, the periodic update pass, the delivery
workers and the admin HTTP server. SIGINT or SIGTERM drains and stops them.`,
		Args: cobra.NoArgs,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if err := e.cfg.RequireTelegram(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, e, func(a *app.App) error {
		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run: %w", err)
		}
		return nil
	})
}
