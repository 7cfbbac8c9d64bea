package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a single collection cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, nil, nil)
			if err != nil {
				return err
			}
			defer a.session.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := a.pipeline.Run(ctx)
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "strategy:  %s\n", res.Strategy)
			fmt.Fprintf(out, "fetched:   %d events in %d pages (page size %d)\n", res.Fetched, res.Pages, res.PageSize)
			fmt.Fprintf(out, "added:     %d\n", res.Added)
			fmt.Fprintf(out, "updated:   %d\n", res.Updated)
			if res.Reconciled > 0 {
				fmt.Fprintf(out, "reconciled: %d\n", res.Reconciled)
			}
			if res.Archived > 0 {
				fmt.Fprintf(out, "archived:  %d\n", res.Archived)
			}
			if res.Partial {
				fmt.Fprintln(out, "warning: fetch stopped early, data may be incomplete")
			}
			fmt.Fprintf(out, "total:     %d events\n", res.TotalEvents)
			return nil
		},
	}
	rootCmd.AddCommand(collectCmd)
}
