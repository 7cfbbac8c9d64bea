package usage

import (
	"strconv"
	"time"
)

// Changed reports whether incoming differs from existing in any field the
// vendor is known to revise after the fact.
func Changed(existing, incoming Event) bool {
	switch {
	case existing.Credits != incoming.Credits:
		return true
	case existing.Tokens != incoming.Tokens:
		return true
	case existing.Cost != incoming.Cost:
		return true
	case existing.Kind != incoming.Kind:
		return true
	case existing.Model != incoming.Model:
		return true
	}
	a, b := existing.TokenUsage, incoming.TokenUsage
	switch {
	case a.Input != b.Input, a.Output != b.Output, a.CacheRead != b.CacheRead, a.CacheWrite != b.CacheWrite:
		return true
	}
	ca, cb := existing.CostInfo, incoming.CostInfo
	return ca.OriginalCost != cb.OriginalCost || ca.DiscountedCost != cb.DiscountedCost || ca.Discount != cb.Discount
}

type MergeOptions struct {
	Incremental  bool
	Now          time.Time
	ActiveWindow time.Duration
	MaxActive    int
	PageSize     int
	// KeepWatermark leaves lastSyncDate where it was. Set it when the batch
	// may be incomplete so the next incremental sync asks for the same range.
	KeepWatermark bool
}

type MergeResult struct {
	Dataset *Dataset
	Added   int
	Updated int
	// Written is false when an incremental merge found nothing to change;
	// Dataset is then the untouched existing document.
	Written bool
}

// Merge combines a normalized batch with the existing dataset. A nil existing
// dataset or a non-incremental merge replaces the events wholesale.
func Merge(existing *Dataset, batch []Event, opts MergeOptions) MergeResult {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	if existing == nil || !opts.Incremental {
		return replaceAll(batch, opts, now)
	}

	events := append([]Event(nil), existing.Events...)
	updated := 0
	for _, i := range ActiveIndices(events, now, opts.ActiveWindow, opts.MaxActive) {
		prefix := events[i].Prefix()
		for _, in := range batch {
			if in.Prefix() != prefix {
				continue
			}
			if Changed(events[i], in) {
				events[i] = in
				updated++
			}
			break
		}
	}

	ids := make(map[string]struct{}, len(events))
	prefixes := make(map[string]struct{}, len(events))
	for _, e := range events {
		ids[e.ID] = struct{}{}
		prefixes[e.Prefix()] = struct{}{}
	}
	var added []Event
	for _, in := range batch {
		if _, ok := ids[in.ID]; ok {
			continue
		}
		if _, ok := prefixes[in.Prefix()]; ok {
			continue
		}
		ids[in.ID] = struct{}{}
		prefixes[in.Prefix()] = struct{}{}
		added = append(added, in)
	}

	if len(added) == 0 && updated == 0 {
		return MergeResult{Dataset: existing}
	}

	merged := append(added, events...)
	SortNewestFirst(merged)
	meta := existing.SyncMetadata
	meta.LastSuccessfulSync = now
	meta.SyncStrategy = StrategyIncremental
	if opts.PageSize > 0 {
		meta.AdaptivePageSize = opts.PageSize
	}
	watermark := strconv.FormatInt(now.UnixMilli(), 10)
	if opts.KeepWatermark {
		watermark = existing.LastSyncDate
	}
	return MergeResult{
		Dataset: &Dataset{
			Timestamp:    now,
			LastSyncDate: watermark,
			TotalEvents:  len(merged),
			SyncMetadata: meta,
			Events:       merged,
		},
		Added:   len(added),
		Updated: updated,
		Written: true,
	}
}

func replaceAll(batch []Event, opts MergeOptions, now time.Time) MergeResult {
	events := append([]Event(nil), batch...)
	SortNewestFirst(events)
	mark := now
	if len(events) > 0 {
		mark = events[0].Date
	}
	watermark := strconv.FormatInt(mark.UnixMilli(), 10)
	if opts.KeepWatermark {
		// No usable previous watermark on this path: the next cycle is full.
		watermark = ""
	}
	return MergeResult{
		Dataset: &Dataset{
			Timestamp:    now,
			LastSyncDate: watermark,
			TotalEvents:  len(events),
			SyncMetadata: SyncMetadata{
				LastSuccessfulSync: now,
				AdaptivePageSize:   opts.PageSize,
				SyncStrategy:       StrategyFull,
			},
			Events: events,
		},
		Added:   len(events),
		Written: true,
	}
}
