package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/tidwall/gjson"

	"github.com/Viaszx/cursor-usage-tracker/pkg/metrics"
	"github.com/Viaszx/cursor-usage-tracker/pkg/session"
)

const defaultMaxPages = 1000

type FetchResult struct {
	Raw      []json.RawMessage
	Pages    int
	PageSize int
	// Partial is set when a page failed and pagination stopped early. The
	// events gathered before the failure are still returned.
	Partial bool
	Err     error
}

// Fetcher pages through the filtered usage events endpoint.
type Fetcher struct {
	Session  session.Provider
	TeamID   int
	Bounds   PageBounds
	Delay    time.Duration
	MaxPages int
	Clock    quartz.Clock
	Metrics  *metrics.Metrics
	// OnPageSize receives the controller's page size after every page.
	OnPageSize func(int)
}

func (f *Fetcher) clock() quartz.Clock {
	if f.Clock == nil {
		return quartz.NewReal()
	}
	return f.Clock
}

// Fetch requests pages until one comes back empty. Transport failures end
// pagination without an error return; see FetchResult.Partial.
func (f *Fetcher) Fetch(ctx context.Context, plan SyncPlan) FetchResult {
	clock := f.clock()
	maxPages := f.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	ctrl := NewPageSizeController(plan.PageSize, f.Bounds)
	res := FetchResult{PageSize: ctrl.Size()}
	start, end := epochMillis(plan.Start), epochMillis(plan.End)

	for page := 1; page <= maxPages; page++ {
		size := ctrl.Size()
		req := session.EventsRequest{
			TeamID:    f.TeamID,
			StartDate: start,
			EndDate:   end,
			Page:      page,
			PageSize:  size,
		}
		began := clock.Now()
		body, err := f.Session.PostEvents(ctx, req)
		latency := clock.Since(began)
		if err != nil {
			slog.Warn("usage page fetch failed", "page", page, "page_size", size, "error", err)
			res.Partial = true
			res.Err = fmt.Errorf("page %d: %w", page, err)
			return res
		}
		events, err := ExtractEvents(body)
		if err != nil {
			slog.Warn("usage page unreadable", "page", page, "page_size", size, "bytes", len(body), "error", err)
			res.Partial = true
			res.Err = fmt.Errorf("page %d: %w", page, err)
			return res
		}
		next := ctrl.Observe(latency, len(events), size)
		res.PageSize = next
		res.Pages = page
		f.Metrics.ObservePage(latency, len(events), next)
		if f.OnPageSize != nil {
			f.OnPageSize(next)
		}
		slog.Debug("usage page fetched", "page", page, "events", len(events), "latency_ms", latency.Milliseconds(), "next_page_size", next)
		if len(events) == 0 {
			return res
		}
		res.Raw = append(res.Raw, events...)
		if err := f.sleep(ctx, clock); err != nil {
			res.Partial = true
			res.Err = err
			return res
		}
	}
	slog.Warn("usage fetch stopped at page cap", "max_pages", maxPages, "events", len(res.Raw))
	res.Partial = true
	return res
}

func (f *Fetcher) sleep(ctx context.Context, clock quartz.Clock) error {
	d := f.Delay
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d, "fetcher", "delay")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExtractEvents returns the raw event records of a usage events response.
// The dashboard uses usageEventsDisplay; some variants answer with events.
// A body with neither array, such as a login page, is an error rather than
// an empty page.
func ExtractEvents(body []byte) ([]json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidBody
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errUnrecognizedBody
	}
	var (
		out   []json.RawMessage
		found bool
	)
	for _, key := range []string{"usageEventsDisplay", "events"} {
		arr := root.Get(key)
		if !arr.IsArray() {
			continue
		}
		found = true
		arr.ForEach(func(_, v gjson.Result) bool {
			out = append(out, json.RawMessage(v.Raw))
			return true
		})
		if len(out) > 0 {
			return out, nil
		}
	}
	if !found {
		return nil, errUnrecognizedBody
	}
	return out, nil
}
