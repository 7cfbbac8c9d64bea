package collector

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Viaszx/cursor-usage-tracker/pkg/metrics"
	"github.com/Viaszx/cursor-usage-tracker/pkg/session"
	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

const (
	reconcileStepCookies = "cookies"
	reconcileStepFetch   = "fetch"
	reconcileStepFilter  = "filter"
	reconcileStepParse   = "parse"

	reconcilePageSize = 500
)

// Reconciler re-reads a trailing window from the vendor and returns fresh
// copies of recently stored events, so server-side edits can be merged.
type Reconciler struct {
	Session    session.Provider
	Normalizer *usage.Normalizer
	TeamID     int
	Window     time.Duration
	MaxActive  int
	Lookback   time.Duration
	Metrics    *metrics.Metrics
}

// Reconcile never fails: every problem is logged with its step and yields
// no candidates.
func (r *Reconciler) Reconcile(ctx context.Context, ds *usage.Dataset, now time.Time) []usage.Event {
	if ds == nil {
		return nil
	}
	active := usage.ActiveEvents(ds.Events, now, r.Window, r.MaxActive)
	if len(active) == 0 {
		return nil
	}
	prefixes := make([]string, 0, len(active))
	for _, e := range active {
		if p := e.Prefix(); p != "" {
			prefixes = append(prefixes, p)
		}
	}

	cookies, err := r.Session.CookieHeader(ctx)
	if err != nil {
		r.fail(reconcileStepCookies, err)
		return nil
	}

	lookback := r.Lookback
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	body, err := r.Session.PostEventsWithCookies(ctx, cookies, session.EventsRequest{
		TeamID:    r.TeamID,
		StartDate: epochMillis(now.Add(-lookback)),
		EndDate:   epochMillis(now),
		Page:      1,
		PageSize:  reconcilePageSize,
	})
	if err != nil {
		r.fail(reconcileStepFetch, err)
		return nil
	}

	matched, err := matchActive(body, prefixes)
	if err != nil {
		r.fail(reconcileStepFilter, err)
		return nil
	}

	out := make([]usage.Event, 0, len(matched))
	for _, raw := range matched {
		ev, ok := r.Normalizer.Normalize([]byte(raw.Raw))
		if !ok {
			r.fail(reconcileStepParse, errUnparsable)
			return nil
		}
		out = append(out, ev)
	}
	slog.Debug("reconciled active events", "active", len(active), "matched", len(out))
	return out
}

func (r *Reconciler) fail(step string, err error) {
	slog.Warn("active event reconciliation skipped", "step", step, "error", err)
	r.Metrics.ReconcileFailed(step)
}

// matchActive keeps the raw records whose timestamp starts with one of the
// stored id prefixes. Both response shapes are scanned.
func matchActive(body []byte, prefixes []string) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidBody
	}
	root := gjson.ParseBytes(body)
	var out []gjson.Result
	for _, key := range []string{"events", "usageEventsDisplay"} {
		root.Get(key).ForEach(func(_, v gjson.Result) bool {
			ts := v.Get("timestamp").String()
			if ts == "" {
				return true
			}
			for _, p := range prefixes {
				if strings.HasPrefix(ts, p) {
					out = append(out, v)
					break
				}
			}
			return true
		})
	}
	return out, nil
}
