package usage

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(ts time.Time, suffix string, credits float64) Event {
	ms := ts.UnixMilli()
	return Event{
		ID:          strconv.FormatInt(ms, 10) + "_" + suffix,
		Date:        ts.UTC(),
		Timestamp:   ms,
		Model:       "gpt-5",
		Kind:        KindUsageBased,
		KindDisplay: "Usage Based",
		TokenUsage:  TokenUsage{Input: 10, Output: 5, Total: 15},
		Tokens:      15,
		Credits:     credits,
		Source:      SourceAPI,
	}
}

func defaultMergeOptions(now time.Time, incremental bool) MergeOptions {
	return MergeOptions{
		Incremental:  incremental,
		Now:          now,
		ActiveWindow: 24 * time.Hour,
		MaxActive:    100,
		PageSize:     500,
	}
}

func TestChangedDetectsCreditsOnly(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := testEvent(ts, "aaa", 1)
	b := testEvent(ts, "bbb", 2)
	assert.True(t, Changed(a, b))
}

func TestChangedIgnoresIDWhenFieldsMatch(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := testEvent(ts, "aaa", 1)
	a.CostInfo = CostInfo{OriginalCost: 1.5, DiscountedCost: 1.5}
	b := testEvent(ts, "bbb", 1)
	b.CostInfo = CostInfo{OriginalCost: 1.5, DiscountedCost: 1.5}
	assert.False(t, Changed(a, b))
}

func TestChangedNestedFields(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base := testEvent(ts, "aaa", 1)

	cacheRead := base
	cacheRead.TokenUsage.CacheRead = 7
	assert.True(t, Changed(base, cacheRead), "token sub-field")

	discount := base
	discount.CostInfo.Discount = 0.2
	assert.True(t, Changed(base, discount), "cost info discount")

	model := base
	model.Model = "auto"
	assert.True(t, Changed(base, model))
}

func TestMergeFullSyncIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []Event{
		testEvent(now.Add(-3*time.Hour), "a", 1),
		testEvent(now.Add(-1*time.Hour), "b", 1),
		testEvent(now.Add(-2*time.Hour), "c", 1),
	}

	first := Merge(nil, batch, defaultMergeOptions(now, false))
	second := Merge(first.Dataset, batch, defaultMergeOptions(now.Add(time.Minute), false))

	require.True(t, first.Written)
	require.True(t, second.Written)
	assert.Equal(t, len(first.Dataset.Events), len(second.Dataset.Events))
	assert.Equal(t, first.Dataset.LastSyncDate, second.Dataset.LastSyncDate)
	assert.Equal(t, strconv.FormatInt(now.Add(-1*time.Hour).UnixMilli(), 10), first.Dataset.LastSyncDate)
	assert.Equal(t, StrategyFull, first.Dataset.SyncMetadata.SyncStrategy)
}

func TestMergeFullSyncEmptyBatchUsesNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := Merge(nil, nil, defaultMergeOptions(now, false))
	require.True(t, res.Written)
	assert.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), res.Dataset.LastSyncDate)
	assert.Empty(t, res.Dataset.Events)
}

func TestMergeDedupsByTimestampPrefix(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := now.Add(-30 * time.Minute)
	existing := Merge(nil, []Event{testEvent(t1, "old", 1)}, defaultMergeOptions(now, false)).Dataset

	incoming := testEvent(t1, "new", 3)
	res := Merge(existing, []Event{incoming}, defaultMergeOptions(now, true))

	require.True(t, res.Written)
	require.Len(t, res.Dataset.Events, 1)
	assert.Equal(t, incoming.ID, res.Dataset.Events[0].ID)
	assert.Equal(t, float64(3), res.Dataset.Events[0].Credits)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Added)
}

func TestMergeUnchangedDuplicateIsNoop(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := now.Add(-30 * time.Minute)
	existing := Merge(nil, []Event{testEvent(t1, "old", 1)}, defaultMergeOptions(now, false)).Dataset

	res := Merge(existing, []Event{testEvent(t1, "new", 1)}, defaultMergeOptions(now, true))
	assert.False(t, res.Written)
	assert.Same(t, existing, res.Dataset)
	assert.Equal(t, "old", res.Dataset.Events[0].ID[len(res.Dataset.Events[0].ID)-3:])
}

func TestMergeIgnoresChangesOutsideActiveWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-72 * time.Hour)
	existing := Merge(nil, []Event{testEvent(old, "old", 1)}, defaultMergeOptions(now, false)).Dataset

	res := Merge(existing, []Event{testEvent(old, "new", 9)}, defaultMergeOptions(now, true))
	assert.False(t, res.Written)
	require.Len(t, res.Dataset.Events, 1)
	assert.Equal(t, float64(1), res.Dataset.Events[0].Credits)
}

// Two distinct vendor events sharing one millisecond collapse into a single
// stored event. This is a known limitation of prefix identity.
func TestMergePrefixCollisionDropsSameMillisecondEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := now.Add(-10 * time.Minute)
	a := testEvent(ts, "a", 1)
	b := testEvent(ts, "b", 1)
	b.Model = "other-model"

	existing := Merge(nil, []Event{testEvent(now.Add(-time.Hour), "z", 1)}, defaultMergeOptions(now, false)).Dataset
	res := Merge(existing, []Event{a, b}, defaultMergeOptions(now, true))
	require.True(t, res.Written)
	assert.Len(t, res.Dataset.Events, 2)
	assert.Equal(t, 1, res.Added)
}

func TestMergeEndToEndScenario(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := now.Add(-4 * time.Hour)
	t2 := now.Add(-3 * time.Hour)
	t3 := now.Add(-2 * time.Hour)
	t4 := now.Add(-1 * time.Hour)

	full := Merge(nil, []Event{testEvent(t1, "a", 1), testEvent(t2, "b", 1), testEvent(t3, "c", 1)}, defaultMergeOptions(now.Add(-90*time.Minute), false))
	require.True(t, full.Written)
	ds := full.Dataset
	require.Len(t, ds.Events, 3)
	assert.Equal(t, []time.Time{t3, t2, t1}, []time.Time{ds.Events[0].Date, ds.Events[1].Date, ds.Events[2].Date})
	assert.Equal(t, strconv.FormatInt(t3.UnixMilli(), 10), ds.LastSyncDate)

	updatedT2 := testEvent(t2, "b2", 5)
	inc := Merge(ds, []Event{updatedT2, testEvent(t4, "d", 1)}, defaultMergeOptions(now, true))
	require.True(t, inc.Written)
	got := inc.Dataset.Events
	require.Len(t, got, 4)
	assert.Equal(t, []time.Time{t4, t3, t2, t1}, []time.Time{got[0].Date, got[1].Date, got[2].Date, got[3].Date})
	assert.Equal(t, float64(5), got[2].Credits)
	assert.Equal(t, 1, inc.Added)
	assert.Equal(t, 1, inc.Updated)
	assert.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), inc.Dataset.LastSyncDate)
	assert.Equal(t, StrategyIncremental, inc.Dataset.SyncMetadata.SyncStrategy)
	assert.Equal(t, 4, inc.Dataset.TotalEvents)
}

func TestMergeKeepWatermark(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	full := Merge(nil, []Event{testEvent(now.Add(-2*time.Hour), "a", 1)}, defaultMergeOptions(now.Add(-time.Hour), false))
	mark := full.Dataset.LastSyncDate

	opts := defaultMergeOptions(now, true)
	opts.KeepWatermark = true
	inc := Merge(full.Dataset, []Event{testEvent(now.Add(-10*time.Minute), "b", 1)}, opts)
	require.True(t, inc.Written)
	assert.Equal(t, 1, inc.Added)
	assert.Equal(t, mark, inc.Dataset.LastSyncDate)

	opts = defaultMergeOptions(now, false)
	opts.KeepWatermark = true
	partialFull := Merge(nil, []Event{testEvent(now.Add(-time.Hour), "c", 1)}, opts)
	require.True(t, partialFull.Written)
	assert.Empty(t, partialFull.Dataset.LastSyncDate)
}

func TestActiveIndicesCapsMostRecent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		testEvent(now.Add(-5*time.Hour), "a", 1),
		testEvent(now.Add(-1*time.Hour), "b", 1),
		testEvent(now.Add(-48*time.Hour), "c", 1),
		testEvent(now.Add(-2*time.Hour), "d", 1),
	}
	assert.Equal(t, []int{1, 3}, ActiveIndices(events, now, 24*time.Hour, 2))
	assert.Equal(t, []int{1, 3, 0}, ActiveIndices(events, now, 24*time.Hour, 100))
	assert.Empty(t, ActiveIndices(events, now, 0, 100))
}
