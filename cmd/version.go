package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Viaszx/cursor-usage-tracker/pkg/version"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("cursor-usage-tracker"))
		},
	})
}
