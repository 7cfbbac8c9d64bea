package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Viaszx/cursor-usage-tracker/pkg/config"
)

var configForce bool

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !configForce {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config: %w", err)
			}
			if err := config.Save(configPath, config.NewDefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
	configCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(configCmd)
}
