package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/comicfeed/internal/app"
)

// newSearchCmd creates the 'search' subcommand, handy for finding title URLs.
func newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Searches every enabled source for titles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			return withApp(cmd.Context(), e, func(a *app.App) error {
				titles, err := a.Search(cmd.Context(), query)
				if err != nil && len(titles) == 0 {
					return fmt.Errorf("search: %w", err)
				}
				if limit > 0 && len(titles) > limit {
					titles = titles[:limit]
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSOURCE\tURL")
				for _, t := range titles {
					fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Source, t.URL)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results to print (0 prints all)")
	return cmd
}
