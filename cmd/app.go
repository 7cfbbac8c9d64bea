package cmd

import (
	"fmt"
	"time"

	"github.com/Viaszx/cursor-usage-tracker/pkg/collector"
	"github.com/Viaszx/cursor-usage-tracker/pkg/config"
	"github.com/Viaszx/cursor-usage-tracker/pkg/metrics"
	"github.com/Viaszx/cursor-usage-tracker/pkg/session"
	"github.com/Viaszx/cursor-usage-tracker/pkg/store"
)

type app struct {
	store    *store.Store
	session  session.Provider
	pipeline *collector.Pipeline
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp wires the session, the store and the pipeline from cfg. The
// caller owns closing the session.
func openApp(cfg *config.Config, m *metrics.Metrics, pub collector.Publisher) (*app, error) {
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	sess, err := session.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open cursor session: %w", err)
	}
	p := collector.NewPipeline(collector.Options{
		Session:   sess,
		Store:     st,
		Publisher: pub,
		Metrics:   m,
		TeamID:    cfg.TeamID,
		Bounds: collector.PageBounds{
			Default: cfg.Sync.DefaultPageSize,
			Min:     cfg.Sync.MinPageSize,
			Max:     cfg.Sync.MaxPageSize,
		},
		PageDelay:         cfg.PageDelay(),
		MaxPages:          cfg.Sync.MaxPages,
		ActiveWindow:      cfg.ActiveWindow(),
		MaxActive:         cfg.Sync.MaxActiveEvents,
		ReconcileLookback: time.Duration(cfg.Sync.ReconcileDays) * 24 * time.Hour,
		RetentionDays:     cfg.RetentionDays,
	})
	return &app{store: st, session: sess, pipeline: p}, nil
}
