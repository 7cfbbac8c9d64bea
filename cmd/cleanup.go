package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Viaszx/cursor-usage-tracker/pkg/store"
)

var (
	cleanupDays int
	cleanupList bool
)

func init() {
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Archive and drop stored events older than a number of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.New(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open data dir: %w", err)
			}
			if cleanupList {
				return listArchives(cmd.OutOrStdout(), st)
			}
			days := cfg.RetentionDays
			if cmd.Flags().Changed("days") {
				days = cleanupDays
			}
			if days <= 0 {
				return fmt.Errorf("retention days must be positive (set --days or retention_days)")
			}
			res, err := st.Cleanup(days, time.Now())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kept %d events, removed %d\n", res.Kept, res.Removed)
			if res.ArchivePath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "archived to %s\n", res.ArchivePath)
			}
			return nil
		},
	}
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Keep events from the last N days (default: retention_days from config)")
	cleanupCmd.Flags().BoolVar(&cleanupList, "list", false, "List archive segments instead of cleaning up")
	rootCmd.AddCommand(cleanupCmd)
}

func listArchives(out io.Writer, st *store.Store) error {
	paths, err := st.Archives()
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	if len(paths) == 0 {
		fmt.Fprintln(out, "no archives")
		return nil
	}
	for _, p := range paths {
		events, err := store.ReadArchive(p)
		if err != nil {
			return fmt.Errorf("read archive %s: %w", filepath.Base(p), err)
		}
		var oldest, newest time.Time
		for _, e := range events {
			if oldest.IsZero() || e.Date.Before(oldest) {
				oldest = e.Date
			}
			if e.Date.After(newest) {
				newest = e.Date
			}
		}
		fmt.Fprintf(out, "%s\t%d events\t%s .. %s\n", filepath.Base(p), len(events),
			oldest.UTC().Format(time.DateOnly), newest.UTC().Format(time.DateOnly))
	}
	return nil
}
