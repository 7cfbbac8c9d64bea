package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

func fullPlan(now time.Time, size int) SyncPlan {
	return SyncPlan{Strategy: usage.StrategyFull, Start: time.UnixMilli(0), End: now, PageSize: size}
}

func TestFetchStopsOnEmptyPage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := &fakeSession{pages: [][]string{
		{rawEvent(now.Add(-time.Minute), 1), rawEvent(now.Add(-2*time.Minute), 1)},
		{rawEvent(now.Add(-3*time.Minute), 1)},
	}}
	var sizes []int
	f := &Fetcher{
		Session:    sess,
		TeamID:     9,
		Bounds:     PageBounds{Default: 2, Min: 1, Max: 10},
		Clock:      quartz.NewMock(t),
		OnPageSize: func(n int) { sizes = append(sizes, n) },
	}

	res := f.Fetch(context.Background(), fullPlan(now, 2))
	assert.False(t, res.Partial)
	assert.Len(t, res.Raw, 3)
	assert.Equal(t, 3, res.Pages)
	require.Len(t, sess.requests, 3)
	assert.Equal(t, 1, sess.requests[0].Page)
	assert.Equal(t, 9, sess.requests[0].TeamID)
	assert.Equal(t, "0", sess.requests[0].StartDate)
	assert.Equal(t, epochMillis(now), sess.requests[0].EndDate)
	// The first page was full and instant, so the second asks for more.
	assert.Equal(t, 3, sess.requests[1].PageSize)
	assert.Equal(t, []int{3, 3, 3}, sizes)
}

func TestFetchReturnsPartialOnTransportError(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := &fakeSession{
		pages:    [][]string{{rawEvent(now, 1)}, {rawEvent(now.Add(-time.Hour), 1)}},
		failPage: 2,
	}
	f := &Fetcher{Session: sess, Bounds: DefaultPageBounds(), Clock: quartz.NewMock(t)}

	res := f.Fetch(context.Background(), fullPlan(now, 500))
	assert.True(t, res.Partial)
	assert.True(t, errors.Is(res.Err, errTransport))
	assert.Len(t, res.Raw, 1)
}

func TestFetchHonoursPageCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	page := []string{rawEvent(now, 1)}
	sess := &fakeSession{pages: [][]string{page, page, page, page}}
	f := &Fetcher{Session: sess, Bounds: DefaultPageBounds(), MaxPages: 2, Clock: quartz.NewMock(t)}

	res := f.Fetch(context.Background(), fullPlan(now, 500))
	assert.True(t, res.Partial)
	assert.Len(t, res.Raw, 2)
}

func TestFetchWaitsBetweenPages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTimer("fetcher", "delay")
	defer trap.Close()

	sess := &fakeSession{pages: [][]string{{rawEvent(now, 1)}}}
	f := &Fetcher{Session: sess, Bounds: DefaultPageBounds(), Delay: 500 * time.Millisecond, Clock: clock}

	done := make(chan FetchResult, 1)
	go func() { done <- f.Fetch(ctx, fullPlan(now, 500)) }()

	call := trap.MustWait(ctx)
	assert.Equal(t, 500*time.Millisecond, call.Duration)
	assert.Equal(t, 1, sess.requestCount())
	call.MustRelease(ctx)
	clock.Advance(500 * time.Millisecond).MustWait(ctx)

	res := <-done
	assert.Len(t, res.Raw, 1)
	assert.Equal(t, 2, sess.requestCount())
}

func TestFetchTreatsUnreadablePageAsPartial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := &fakeSession{
		pages:    [][]string{{rawEvent(now, 1)}},
		rawPages: map[int]string{2: `<!doctype html><html><body>Sign in</body></html>`},
	}
	f := &Fetcher{Session: sess, Bounds: DefaultPageBounds(), Clock: quartz.NewMock(t)}

	res := f.Fetch(context.Background(), fullPlan(now, 500))
	assert.True(t, res.Partial)
	assert.True(t, errors.Is(res.Err, errInvalidBody))
	assert.Len(t, res.Raw, 1)
	assert.Equal(t, 2, sess.requestCount())
}

func TestExtractEventsBothShapes(t *testing.T) {
	now := time.Now()
	got, err := ExtractEvents(pageBody("usageEventsDisplay", []string{rawEvent(now, 1)}))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = ExtractEvents(pageBody("events", []string{rawEvent(now, 1), rawEvent(now, 2)}))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = ExtractEvents([]byte(`{"usageEventsDisplay":[]}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractEventsRejectsUnknownBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "login page", body: `<html>login</html>`, want: errInvalidBody},
		{name: "empty", body: ``, want: errInvalidBody},
		{name: "no events array", body: `{"error":"unauthorized"}`, want: errUnrecognizedBody},
		{name: "events not an array", body: `{"usageEventsDisplay":null}`, want: errUnrecognizedBody},
		{name: "top level array", body: `[]`, want: errUnrecognizedBody},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExtractEvents([]byte(tc.body))
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}
