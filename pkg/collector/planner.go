// Package collector runs one usage collection cycle end to end: plan,
// fetch, normalize, reconcile, merge, persist and publish.
package collector

import (
	"strconv"
	"strings"
	"time"

	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

type PageBounds struct {
	Default int
	Min     int
	Max     int
}

func DefaultPageBounds() PageBounds {
	return PageBounds{Default: 500, Min: 100, Max: 1000}
}

func (b PageBounds) clamp(n int) int {
	if n < b.Min {
		return b.Min
	}
	if n > b.Max {
		return b.Max
	}
	return n
}

type SyncPlan struct {
	Strategy string
	Start    time.Time
	End      time.Time
	PageSize int
}

func (p SyncPlan) Incremental() bool {
	return p.Strategy == usage.StrategyIncremental
}

// PlanSync picks a full sync when there is no dataset or no usable
// watermark, otherwise an incremental sync from the watermark.
func PlanSync(ds *usage.Dataset, now time.Time, bounds PageBounds) SyncPlan {
	full := SyncPlan{
		Strategy: usage.StrategyFull,
		Start:    time.UnixMilli(0).UTC(),
		End:      now,
		PageSize: bounds.Default,
	}
	if ds == nil {
		return full
	}
	mark := strings.TrimSpace(ds.LastSyncDate)
	if mark == "" || mark == "0" {
		return full
	}
	ms, err := strconv.ParseInt(mark, 10, 64)
	if err != nil || ms <= 0 {
		return full
	}
	size := ds.SyncMetadata.AdaptivePageSize
	if size <= 0 {
		size = bounds.Default
	}
	return SyncPlan{
		Strategy: usage.StrategyIncremental,
		Start:    time.UnixMilli(ms).UTC(),
		End:      now,
		PageSize: bounds.clamp(size),
	}
}

func epochMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
