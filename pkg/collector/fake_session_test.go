package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Viaszx/cursor-usage-tracker/pkg/session"
	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

var errTransport = errors.New("connection reset")

// fakeSession serves canned pages. Page N of every events request returns
// pages[N-1], and nothing past the end.
type fakeSession struct {
	mu            sync.Mutex
	pages         [][]string
	failPage      int
	rawPages      map[int]string
	reconcileBody string
	reconcileErr  error
	cookieErr     error
	authErr       error
	authGate      chan struct{}
	requests      []session.EventsRequest
	withCookies   []string
	profileCalls  int
}

func (f *fakeSession) PostEvents(_ context.Context, req session.EventsRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failPage == req.Page {
		return nil, errTransport
	}
	if body, ok := f.rawPages[req.Page]; ok {
		return []byte(body), nil
	}
	if req.Page-1 < len(f.pages) {
		return pageBody("usageEventsDisplay", f.pages[req.Page-1]), nil
	}
	return pageBody("usageEventsDisplay", nil), nil
}

func (f *fakeSession) PostEventsWithCookies(_ context.Context, cookieHeader string, req session.EventsRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.withCookies = append(f.withCookies, cookieHeader)
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	return []byte(f.reconcileBody), nil
}

func (f *fakeSession) CookieHeader(context.Context) (string, error) {
	if f.cookieErr != nil {
		return "", f.cookieErr
	}
	return session.SessionCookieName + "=tok", nil
}

func (f *fakeSession) GetJSON(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch path {
	case session.AuthMePath:
		f.profileCalls++
		return []byte(`{"email":"dev@example.com","name":"Dev"}`), nil
	case session.UsageSummaryPath:
		return []byte(`{"membershipType":"pro","individualUsage":{"plan":{"enabled":true,"remaining":1500}}}`), nil
	}
	return nil, &session.HTTPError{Path: path, StatusCode: 404}
}

func (f *fakeSession) WaitAuthenticated(ctx context.Context) error {
	if f.authGate != nil {
		select {
		case <-f.authGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.authErr
}

func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) setPages(pages ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = pages
}

func (f *fakeSession) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type domSession struct {
	*fakeSession
	rows []usage.DOMRow
}

func (d *domSession) ExtractRows(context.Context) ([]usage.DOMRow, error) {
	return d.rows, nil
}

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (c *countingPublisher) Publish() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingPublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func rawEvent(ts time.Time, requestsCosts float64) string {
	return fmt.Sprintf(`{"timestamp":"%d","kind":"USAGE_EVENT_KIND_USAGE_BASED","model":"gpt-5","tokenUsage":{"inputTokens":100,"outputTokens":20,"totalCents":%g},"requestsCosts":%g}`,
		ts.UnixMilli(), requestsCosts*4, requestsCosts)
}

func pageBody(key string, events []string) []byte {
	return []byte(`{"` + key + `":[` + strings.Join(events, ",") + `],"totalUsageEventsCount":` + fmt.Sprint(len(events)) + `}`)
}
