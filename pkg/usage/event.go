package usage

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const (
	SourceAPI = "API"
	SourceDOM = "DOM"

	StrategyFull        = "full"
	StrategyIncremental = "incremental"
)

type TokenUsage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cacheRead"`
	CacheWrite int64 `json:"cacheWrite"`
	Total      int64 `json:"total"`
}

type CostInfo struct {
	TotalCents      float64 `json:"totalCents"`
	RequestsCosts   float64 `json:"requestsCosts"`
	UsageBasedCosts float64 `json:"usageBasedCosts"`
	IsIncluded      bool    `json:"isIncluded"`
	IsFree          bool    `json:"isFree"`
	DisplayCost     float64 `json:"displayCost"`
	OriginalCost    float64 `json:"originalCost"`
	DiscountedCost  float64 `json:"discountedCost"`
	Discount        float64 `json:"discount"`
}

// Event is the canonical usage record persisted in the dataset.
//
// ID is "<timestamp>_<suffix>" where the suffix is regenerated on every
// fetch, so only the timestamp prefix identifies the vendor occurrence.
type Event struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	Timestamp   int64           `json:"timestamp"`
	Model       string          `json:"model"`
	Kind        string          `json:"kind"`
	KindDisplay string          `json:"kindDisplay"`
	TokenUsage  TokenUsage      `json:"tokenUsage"`
	Tokens      int64           `json:"tokens"`
	CostInfo    CostInfo        `json:"costInfo"`
	Cost        float64         `json:"cost"`
	Credits     float64         `json:"credits"`
	MaxMode     bool            `json:"maxMode"`
	Source      string          `json:"source"`
	RawData     json.RawMessage `json:"rawData,omitempty"`
}

// Prefix returns the timestamp part of the event id.
func (e Event) Prefix() string {
	return TimestampPrefix(e.ID)
}

func TimestampPrefix(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[:i]
	}
	return id
}

type SyncMetadata struct {
	LastSuccessfulSync time.Time `json:"lastSuccessfulSync"`
	AdaptivePageSize   int       `json:"adaptivePageSize"`
	SyncStrategy       string    `json:"syncStrategy"`
}

// Dataset is the persisted usage document, events ordered newest first.
type Dataset struct {
	Timestamp    time.Time    `json:"timestamp"`
	LastSyncDate string       `json:"lastSyncDate"`
	TotalEvents  int          `json:"totalEvents"`
	SyncMetadata SyncMetadata `json:"syncMetadata"`
	Events       []Event      `json:"events"`
}

// UserInfo is a last-write-wins account snapshot.
type UserInfo struct {
	Email          string          `json:"email,omitempty"`
	Name           string          `json:"name,omitempty"`
	Plan           string          `json:"plan,omitempty"`
	MembershipType string          `json:"membershipType,omitempty"`
	Balance        float64         `json:"balance"`
	Status         string          `json:"status,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// SortNewestFirst orders events by date descending, keeping input order for ties.
func SortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.After(events[j].Date)
	})
}

// ActiveIndices returns the positions of events dated within window of now,
// newest first, capped at limit.
func ActiveIndices(events []Event, now time.Time, window time.Duration, limit int) []int {
	if window <= 0 || limit == 0 {
		return nil
	}
	cutoff := now.Add(-window)
	out := make([]int, 0)
	for i, e := range events {
		if e.Date.Before(cutoff) {
			continue
		}
		out = append(out, i)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return events[out[a]].Date.After(events[out[b]].Date)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActiveEvents is ActiveIndices resolved to the events themselves.
func ActiveEvents(events []Event, now time.Time, window time.Duration, limit int) []Event {
	idx := ActiveIndices(events, now, window, limit)
	out := make([]Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, events[i])
	}
	return out
}
