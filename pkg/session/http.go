package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Viaszx/cursor-usage-tracker/pkg/version"
)

const maxErrorBody = 512

type HTTPOptions struct {
	BaseURL string
	Cookies []Cookie
	Timeout time.Duration
	// Transport overrides the underlying transport, mainly for tests.
	Transport http.RoundTripper
}

// HTTPSession replays exported browser cookies against the dashboard API.
type HTTPSession struct {
	baseURL string
	header  string
	cookies []Cookie
	client  *http.Client
}

func NewHTTPSession(opts HTTPOptions) *HTTPSession {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	header := CookieHeader(opts.Cookies)
	return &HTTPSession{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		header:  header,
		cookies: opts.Cookies,
		client: &http.Client{
			Timeout: timeout,
			Transport: cookieRoundTripper{
				Base:      opts.Transport,
				Header:    header,
				UserAgent: version.UserAgent(),
			},
		},
	}
}

func (s *HTTPSession) PostEvents(ctx context.Context, req EventsRequest) ([]byte, error) {
	return s.postEvents(ctx, "", req)
}

func (s *HTTPSession) PostEventsWithCookies(ctx context.Context, cookieHeader string, req EventsRequest) ([]byte, error) {
	return s.postEvents(ctx, cookieHeader, req)
}

func (s *HTTPSession) postEvents(ctx context.Context, cookieHeader string, req EventsRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode events request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+EventsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Origin", s.baseURL)
	httpReq.Header.Set("Referer", s.baseURL+DashboardPath)
	if cookieHeader != "" {
		httpReq.Header.Set("Cookie", cookieHeader)
	}
	return s.do(httpReq, EventsPath)
}

func (s *HTTPSession) CookieHeader(context.Context) (string, error) {
	if s.header == "" {
		return "", ErrNotAuthenticated
	}
	return s.header, nil
}

func (s *HTTPSession) GetJSON(ctx context.Context, path string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	return s.do(httpReq, path)
}

// WaitAuthenticated has nothing to wait for: exported cookies are either
// present or not.
func (s *HTTPSession) WaitAuthenticated(context.Context) error {
	if !HasSessionCookie(s.cookies) {
		return fmt.Errorf("%w: no %s cookie", ErrNotAuthenticated, SessionCookieName)
	}
	return nil
}

func (s *HTTPSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSession) do(req *http.Request, path string) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(b))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &HTTPError{Path: path, StatusCode: resp.StatusCode, Body: msg}
	}
	return b, nil
}
