package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Viaszx/cursor-usage-tracker/pkg/collector"
	"github.com/Viaszx/cursor-usage-tracker/pkg/dashboard"
	"github.com/Viaszx/cursor-usage-tracker/pkg/metrics"
	"github.com/Viaszx/cursor-usage-tracker/pkg/store"
	"github.com/Viaszx/cursor-usage-tracker/pkg/version"
)

var (
	serveListenAddrOverride string
	serveNoCollect          bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collector loop and the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}

			m := metrics.New()
			hub := dashboard.NewHub()
			opts := dashboard.Options{
				Config:  cfg,
				Hub:     hub,
				Metrics: m,
				Logs:    logRing,
			}
			var sched *collector.Scheduler
			if serveNoCollect {
				st, err := store.New(cfg.DataDir)
				if err != nil {
					return fmt.Errorf("open data dir: %w", err)
				}
				opts.Store = st
			} else {
				a, err := openApp(cfg, m, hub)
				if err != nil {
					return err
				}
				defer a.session.Close()
				sched = collector.NewScheduler(a.pipeline, cfg.CollectInterval(), nil)
				opts.Store = a.store
				opts.Collector = a.pipeline
				opts.Trigger = sched
			}
			srv, err := dashboard.NewServer(opts)
			if err != nil {
				return fmt.Errorf("create dashboard: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("starting", "version", version.String(), "data_dir", cfg.DataDir, "interval", cfg.CollectInterval())
			var wg sync.WaitGroup
			if sched != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					sched.Run(ctx)
				}()
			}
			err = srv.Run(ctx)
			stop()
			wg.Wait()
			return err
		},
	}
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:3000)")
	serveCmd.Flags().BoolVar(&serveNoCollect, "no-collect", false, "Serve stored data only, never contact Cursor")
	rootCmd.AddCommand(serveCmd)
}
