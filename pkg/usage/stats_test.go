package usage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStatsErroredCostExclusion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errored := testEvent(now.Add(-time.Hour), "e", 0)
	errored.Kind = KindErroredNotCharged
	errored.KindDisplay = "Errored, Not Charged"
	errored.Cost = 5
	a := testEvent(now.Add(-2*time.Hour), "a", 1)
	a.Cost = 4
	b := testEvent(now.Add(-3*time.Hour), "b", 1)
	b.Cost = 6

	st := ComputeStats([]Event{errored, a, b}, now)

	assert.Equal(t, 3, st.TotalEvents)
	assert.Equal(t, float64(10), st.TotalCost)
	assert.Equal(t, float64(15), st.EstimatedCost)
	assert.Equal(t, float64(5), st.ByKind[KindErroredNotCharged].Cost)
	assert.Equal(t, float64(10), st.ByKind[KindUsageBased].Cost)
	assert.Equal(t, float64(10), st.ByModel["gpt-5"].Cost)
	assert.Equal(t, 3, st.ByModel["gpt-5"].Count)
	assert.Equal(t, int64(45), st.TotalTokens)
	assert.Equal(t, 3, st.ByDate["2026-03-01"].Count)
}

func TestComputeStatsRecentEventsNewestFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []Event
	for i := 0; i < 15; i++ {
		events = append(events, testEvent(now.Add(-time.Duration(15-i)*time.Minute), "x", 1))
	}

	st := ComputeStats(events, now)
	require.Len(t, st.RecentEvents, 10)
	assert.Equal(t, now.Add(-time.Minute), st.RecentEvents[0].Date)
	for i := 1; i < len(st.RecentEvents); i++ {
		assert.True(t, st.RecentEvents[i-1].Date.After(st.RecentEvents[i].Date))
	}
}

func TestComputeStatsMaxModePrefersRawData(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rawWins := testEvent(now.Add(-time.Minute), "a", 1)
	rawWins.MaxMode = false
	rawWins.RawData = json.RawMessage(`{"details":{"toolCallComposer":{"maxMode":true}}}`)

	rawFalse := testEvent(now.Add(-2*time.Minute), "b", 1)
	rawFalse.MaxMode = true
	rawFalse.RawData = json.RawMessage(`{"maxMode":false}`)

	fallback := testEvent(now.Add(-3*time.Minute), "c", 1)
	fallback.MaxMode = true

	st := ComputeStats([]Event{rawWins, rawFalse, fallback}, now)
	assert.Equal(t, 2, st.TotalMaxMode)
	require.Len(t, st.RecentEvents, 3)
	assert.True(t, st.RecentEvents[0].MaxMode)
	assert.False(t, st.RecentEvents[1].MaxMode)
	assert.True(t, st.RecentEvents[2].MaxMode)
	assert.Nil(t, st.RecentEvents[0].RawData)
}

func TestComputeStatsEmpty(t *testing.T) {
	st := ComputeStats(nil, time.Now())
	assert.Zero(t, st.TotalEvents)
	assert.NotNil(t, st.ByModel)
	assert.NotNil(t, st.RecentEvents)
}
