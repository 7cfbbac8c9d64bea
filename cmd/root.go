package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Viaszx/cursor-usage-tracker/pkg/config"
	"github.com/Viaszx/cursor-usage-tracker/pkg/logutil"
)

// logRingSize is how many recent log lines /api/logs can return.
const logRingSize = 500

var (
	configPath string
	logLevel   string
	logRing    = logutil.NewRing(logRingSize)
)

var rootCmd = &cobra.Command{
	Use:   "cursor-usage-tracker",
	Short: "Collect and browse Cursor usage events",
	Long:  "Polls the Cursor dashboard for usage events, keeps a deduplicated local history, and serves it on a small web dashboard.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Config TOML path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := logutil.Configure(logLevel); err != nil {
			return err
		}
		logutil.SetOutputTee(logRing)
		if os.Geteuid() == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: running as root")
		}
		return nil
	}
}
