// Package session talks to the vendor dashboard on behalf of an
// authenticated user, either over plain HTTP with exported cookies or
// through a headless browser.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

const (
	EventsPath       = "/api/dashboard/get-filtered-usage-events"
	AuthMePath       = "/api/auth/me"
	UsageSummaryPath = "/api/usage-summary"
	DashboardPath    = "/dashboard?tab=usage"
)

var ErrNotAuthenticated = errors.New("session not authenticated")

// EventsRequest is the body of the filtered usage events call. Dates are
// epoch milliseconds encoded as strings.
type EventsRequest struct {
	TeamID    int    `json:"teamId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
}

// Provider is an authenticated channel to the vendor dashboard.
type Provider interface {
	PostEvents(ctx context.Context, req EventsRequest) ([]byte, error)
	PostEventsWithCookies(ctx context.Context, cookieHeader string, req EventsRequest) ([]byte, error)
	CookieHeader(ctx context.Context) (string, error)
	GetJSON(ctx context.Context, path string) ([]byte, error)
	WaitAuthenticated(ctx context.Context) error
	Close() error
}

// DOMExtractor is implemented by providers that can scrape the rendered
// usage table when the API yields nothing.
type DOMExtractor interface {
	ExtractRows(ctx context.Context) ([]usage.DOMRow, error)
}

type HTTPError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Unwrap maps auth failures to ErrNotAuthenticated.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrNotAuthenticated
	}
	return nil
}
