package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/app"
	"github.com/JakeFAU/comicfeed/internal/scanner"
)

// scanOutput is the JSON document printed by 'scan'.
type scanOutput struct {
	scanner.Report
	Errors []string `json:"errors,omitempty"`
}

// newScanCmd creates the 'scan' subcommand: one update pass.
func newScanCmd() *cobra.Command {
	var commit bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Runs a single update pass and prints its report",
		Long: `Checks every subscribed title once. By default nothing is written or sent;
with --commit watermarks advance and new chapters are delivered before the
command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if commit {
				if err := e.cfg.RequireTelegram(); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), e, func(a *app.App) error {
				report, err := a.ScanOnce(cmd.Context(), commit)
				if err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				if report.Err != nil {
					e.logger.Warn("scan finished with errors", zap.Error(report.Err))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(scanOutput{Report: report, Errors: report.Errors()})
			})
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", false, "advance watermarks and deliver new chapters")
	return cmd
}
