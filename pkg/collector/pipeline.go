package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/Viaszx/cursor-usage-tracker/pkg/cache"
	"github.com/Viaszx/cursor-usage-tracker/pkg/metrics"
	"github.com/Viaszx/cursor-usage-tracker/pkg/session"
	"github.com/Viaszx/cursor-usage-tracker/pkg/store"
	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

const (
	defaultUserInfoTTL = 10 * time.Minute
	userInfoKey        = "self"
)

// Publisher is told that the persisted data changed.
type Publisher interface {
	Publish()
}

type Options struct {
	Session   session.Provider
	Store     *store.Store
	Publisher Publisher
	Metrics   *metrics.Metrics
	Clock     quartz.Clock

	TeamID            int
	Bounds            PageBounds
	PageDelay         time.Duration
	MaxPages          int
	ActiveWindow      time.Duration
	MaxActive         int
	ReconcileLookback time.Duration
	RetentionDays     int
	UserInfoTTL       time.Duration
}

type Result struct {
	Strategy    string    `json:"strategy"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Fetched     int       `json:"fetched"`
	Pages       int       `json:"pages"`
	Dropped     int       `json:"dropped"`
	Reconciled  int       `json:"reconciled"`
	Added       int       `json:"added"`
	Updated     int       `json:"updated"`
	Archived    int       `json:"archived"`
	Written     bool      `json:"written"`
	Partial     bool      `json:"partial"`
	DOMFallback bool      `json:"domFallback"`
	PageSize    int       `json:"pageSize"`
	TotalEvents int       `json:"totalEvents"`
	Error       string    `json:"error,omitempty"`
}

// Pipeline runs collection cycles. At most one cycle runs at a time.
type Pipeline struct {
	opts       Options
	clock      quartz.Clock
	normalizer *usage.Normalizer
	userInfo   *cache.Expiring[string, usage.UserInfo]

	busy atomic.Bool

	mu   sync.RWMutex
	last *Result
}

func NewPipeline(opts Options) *Pipeline {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Bounds == (PageBounds{}) {
		opts.Bounds = DefaultPageBounds()
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 24 * time.Hour
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = 100
	}
	if opts.UserInfoTTL <= 0 {
		opts.UserInfoTTL = defaultUserInfoTTL
	}
	clock := opts.Clock
	return &Pipeline{
		opts:       opts,
		clock:      clock,
		normalizer: usage.NewNormalizer(func() time.Time { return clock.Now() }),
		userInfo:   cache.NewExpiring[string, usage.UserInfo](opts.UserInfoTTL),
	}
}

func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

func (p *Pipeline) LastResult() (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// Run executes one cycle. A concurrent call returns ErrBusy immediately.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer p.busy.Store(false)

	res := Result{StartedAt: p.clock.Now().UTC()}
	err := p.run(ctx, &res)
	res.FinishedAt = p.clock.Now().UTC()
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		res.Error = err.Error()
	case !res.Written:
		outcome = "noop"
	}
	p.opts.Metrics.ObserveCycle(res.Strategy, outcome, res.FinishedAt.Sub(res.StartedAt))

	p.mu.Lock()
	p.last = &res
	p.mu.Unlock()
	return res, err
}

func (p *Pipeline) run(ctx context.Context, res *Result) error {
	if err := p.opts.Session.WaitAuthenticated(ctx); err != nil {
		return fmt.Errorf("wait for authenticated session: %w", err)
	}
	p.refreshUserInfo(ctx)

	ds, err := p.opts.Store.LoadDataset()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load dataset: %w", err)
	}
	now := p.clock.Now().UTC()
	plan := PlanSync(ds, now, p.opts.Bounds)
	res.Strategy = plan.Strategy
	res.PageSize = plan.PageSize
	slog.Info("usage sync starting", "strategy", plan.Strategy, "since", plan.Start.Format(time.RFC3339), "page_size", plan.PageSize)

	fetcher := &Fetcher{
		Session:    p.opts.Session,
		TeamID:     p.opts.TeamID,
		Bounds:     p.opts.Bounds,
		Delay:      p.opts.PageDelay,
		MaxPages:   p.opts.MaxPages,
		Clock:      p.clock,
		Metrics:    p.opts.Metrics,
		OnPageSize: func(n int) { res.PageSize = n },
	}
	fetched := fetcher.Fetch(ctx, plan)
	res.Fetched = len(fetched.Raw)
	res.Pages = fetched.Pages
	res.Partial = fetched.Partial
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := p.normalizeAll(fetched)
	res.Dropped = res.Fetched - len(batch)

	switch {
	case plan.Incremental() && len(fetched.Raw) == 0:
		rec := &Reconciler{
			Session:    p.opts.Session,
			Normalizer: p.normalizer,
			TeamID:     p.opts.TeamID,
			Window:     p.opts.ActiveWindow,
			MaxActive:  p.opts.MaxActive,
			Lookback:   p.opts.ReconcileLookback,
			Metrics:    p.opts.Metrics,
		}
		batch = rec.Reconcile(ctx, ds, now)
		res.Reconciled = len(batch)
	case !plan.Incremental() && len(batch) == 0:
		batch = p.domFallback(ctx)
		res.DOMFallback = len(batch) > 0
	}

	if !plan.Incremental() && len(batch) == 0 && fetched.Partial {
		slog.Warn("full sync returned nothing before a fetch failure, keeping existing data", "error", fetched.Err)
		return nil
	}

	// A partial fetch may have missed events past the failed page: keep the
	// watermark, and never let an incomplete full batch replace stored events.
	incremental := plan.Incremental()
	if fetched.Partial {
		slog.Warn("usage fetch incomplete, keeping sync watermark", "strategy", plan.Strategy, "fetched", res.Fetched, "error", fetched.Err)
		if ds != nil && len(ds.Events) > 0 {
			incremental = true
		}
	}
	merged := usage.Merge(ds, batch, usage.MergeOptions{
		Incremental:   incremental,
		Now:           now,
		ActiveWindow:  p.opts.ActiveWindow,
		MaxActive:     p.opts.MaxActive,
		PageSize:      res.PageSize,
		KeepWatermark: fetched.Partial,
	})
	res.Added = merged.Added
	res.Updated = merged.Updated
	res.TotalEvents = len(merged.Dataset.Events)
	if !merged.Written {
		slog.Info("usage sync found no changes", "strategy", plan.Strategy, "fetched", res.Fetched)
		return p.savePageSize(ds, res.PageSize)
	}

	if _, err := p.opts.Store.WriteDataset(merged.Dataset, now); err != nil {
		return fmt.Errorf("persist dataset: %w", err)
	}
	res.Written = true
	p.opts.Metrics.ObserveMerge(res.Added, res.Updated, res.TotalEvents)

	if p.opts.RetentionDays > 0 {
		cleaned, err := p.opts.Store.Cleanup(p.opts.RetentionDays, now)
		if err != nil {
			slog.Warn("retention cleanup failed", "days", p.opts.RetentionDays, "error", err)
		} else if cleaned.Removed > 0 {
			res.Archived = cleaned.Removed
			res.TotalEvents = cleaned.Kept
			slog.Info("retention cleanup archived events", "removed", cleaned.Removed, "archive", cleaned.ArchivePath)
		}
	}

	slog.Info("usage sync completed",
		"strategy", plan.Strategy,
		"new", res.Added,
		"updated", res.Updated,
		"total", res.TotalEvents,
		"partial", res.Partial,
	)
	if p.opts.Publisher != nil {
		p.opts.Publisher.Publish()
	}
	return nil
}

// savePageSize records the controller's size on a cycle that changed no
// events, so the next cycle resumes from it.
func (p *Pipeline) savePageSize(ds *usage.Dataset, size int) error {
	if ds == nil || size <= 0 || ds.SyncMetadata.AdaptivePageSize == size {
		return nil
	}
	ds.SyncMetadata.AdaptivePageSize = size
	if err := p.opts.Store.SaveDataset(ds); err != nil {
		return fmt.Errorf("persist page size: %w", err)
	}
	slog.Debug("adaptive page size saved", "page_size", size)
	return nil
}

func (p *Pipeline) normalizeAll(fetched FetchResult) []usage.Event {
	out := make([]usage.Event, 0, len(fetched.Raw))
	for i, raw := range fetched.Raw {
		ev, ok := p.normalizer.Normalize(raw)
		if !ok {
			slog.Warn("dropping unparsable usage event", "index", i, "bytes", len(raw))
			continue
		}
		out = append(out, ev)
	}
	p.opts.Metrics.DroppedEvents(len(fetched.Raw) - len(out))
	return out
}

func (p *Pipeline) domFallback(ctx context.Context) []usage.Event {
	ex, ok := p.opts.Session.(session.DOMExtractor)
	if !ok {
		return nil
	}
	rows, err := ex.ExtractRows(ctx)
	if err != nil {
		slog.Warn("dom fallback failed", "error", err)
		return nil
	}
	out := make([]usage.Event, 0, len(rows))
	for _, row := range rows {
		if ev, ok := p.normalizer.NormalizeDOM(row); ok {
			out = append(out, ev)
		}
	}
	slog.Info("dom fallback extracted events", "rows", len(rows), "events", len(out))
	return out
}

// refreshUserInfo stores a new account snapshot unless a fresh one is
// cached. Failures are logged and do not affect the cycle.
func (p *Pipeline) refreshUserInfo(ctx context.Context) {
	now := p.clock.Now()
	if _, ok := p.userInfo.Get(userInfoKey, now); ok {
		return
	}
	profile, err := p.opts.Session.GetJSON(ctx, session.AuthMePath)
	if err != nil {
		slog.Warn("fetch profile failed", "error", err)
		return
	}
	summary, err := p.opts.Session.GetJSON(ctx, session.UsageSummaryPath)
	if err != nil {
		slog.Debug("fetch usage summary failed", "error", err)
		summary = nil
	}
	info := usage.ParseUserInfo(profile, summary, now)
	if err := p.opts.Store.SaveUserInfo(info); err != nil {
		slog.Warn("persist user info failed", "error", err)
		return
	}
	p.userInfo.Set(userInfoKey, info, now)
}

// UserInfo returns the cached snapshot, falling back to the stored one.
func (p *Pipeline) UserInfo() (usage.UserInfo, error) {
	if info, ok := p.userInfo.Get(userInfoKey, p.clock.Now()); ok {
		return info, nil
	}
	info, err := p.opts.Store.LoadUserInfo()
	if err != nil {
		return usage.UserInfo{}, err
	}
	return *info, nil
}
