package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

type BrowserOptions struct {
	BaseURL  string
	Cookies  []Cookie
	Headless bool
	ExecPath string
	AuthWait time.Duration
	Timeout  time.Duration
}

// BrowserSession drives a Chrome instance through chromedp. Requests run
// inside the page so they carry whatever the dashboard itself would send.
type BrowserSession struct {
	opts BrowserOptions

	mu          sync.Mutex
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	navigated   bool
}

var _ DOMExtractor = (*BrowserSession)(nil)

func NewBrowserSession(opts BrowserOptions) (*BrowserSession, error) {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.AuthWait <= 0 {
		opts.AuthWait = 60 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	// Start the browser now so launch failures surface at construction.
	if err := chromedp.Run(tabCtx, seedCookies(opts.BaseURL, opts.Cookies)); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &BrowserSession{
		opts:        opts,
		ctx:         tabCtx,
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
	}, nil
}

func seedCookies(baseURL string, cookies []Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(cookies) == 0 {
			return nil
		}
		host := ""
		if u, err := url.Parse(baseURL); err == nil {
			host = u.Hostname()
		}
		params := make([]*network.CookieParam, 0, len(cookies))
		for _, c := range cookies {
			domain := c.Domain
			if domain == "" {
				domain = host
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			params = append(params, &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   domain,
				Path:     path,
				Secure:   c.Secure || strings.HasPrefix(baseURL, "https://"),
				HTTPOnly: c.HTTPOnly,
			})
		}
		return network.SetCookies(params).Do(ctx)
	})
}

// run executes actions on the tab bounded by both the caller's context and
// the request timeout.
func (s *BrowserSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tabCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(tabCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *BrowserSession) ensureDashboard(ctx context.Context) error {
	s.mu.Lock()
	done := s.navigated
	s.mu.Unlock()
	if done {
		return nil
	}
	if err := s.run(ctx, s.opts.Timeout, chromedp.Navigate(s.opts.BaseURL+DashboardPath)); err != nil {
		return fmt.Errorf("navigate dashboard: %w", err)
	}
	s.mu.Lock()
	s.navigated = true
	s.mu.Unlock()
	return nil
}

// WaitAuthenticated polls the tab with exponential backoff until the
// session cookie is present and the page is no longer on a login route.
func (s *BrowserSession) WaitAuthenticated(ctx context.Context) error {
	if err := s.ensureDashboard(ctx); err != nil {
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = s.opts.AuthWait
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var location string
		var cookies []*network.Cookie
		err := s.run(ctx, s.opts.Timeout,
			chromedp.Location(&location),
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				cookies, err = network.GetCookies().WithURLs([]string{s.opts.BaseURL}).Do(ctx)
				return err
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if isLoginLocation(location) || !hasNetworkSessionCookie(cookies) {
			slog.Debug("waiting for dashboard login", "attempt", attempt, "location", location)
			return ErrNotAuthenticated
		}
		return nil
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrNotAuthenticated, s.opts.AuthWait)
	}
	return nil
}

func isLoginLocation(location string) bool {
	l := strings.ToLower(location)
	return strings.Contains(l, "/login") || strings.Contains(l, "authenticator.") || strings.Contains(l, "/sign-in")
}

func hasNetworkSessionCookie(cookies []*network.Cookie) bool {
	for _, c := range cookies {
		if c != nil && c.Name == SessionCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

func (s *BrowserSession) CookieHeader(ctx context.Context) (string, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, s.opts.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{s.opts.BaseURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("read browser cookies: %w", err)
	}
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	if !HasSessionCookie(out) {
		return "", ErrNotAuthenticated
	}
	return CookieHeader(out), nil
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
	Error  string `json:"error"`
}

const fetchScript = `(async () => {
  try {
    const init = %s;
    const r = await fetch(%q, init);
    return { status: r.status, body: await r.text(), error: "" };
  } catch (e) {
    return { status: 0, body: "", error: String(e) };
  }
})()`

func (s *BrowserSession) fetch(ctx context.Context, path string, init map[string]any) ([]byte, error) {
	if err := s.ensureDashboard(ctx); err != nil {
		return nil, err
	}
	initJSON, err := json.Marshal(init)
	if err != nil {
		return nil, err
	}
	var res fetchResult
	script := fmt.Sprintf(fetchScript, initJSON, path)
	err = s.run(ctx, s.opts.Timeout, chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("in-page fetch %s: %w", path, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("in-page fetch %s: %s", path, res.Error)
	}
	if res.Status < 200 || res.Status > 299 {
		body := res.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &HTTPError{Path: path, StatusCode: res.Status, Body: body}
	}
	return []byte(res.Body), nil
}

func (s *BrowserSession) PostEvents(ctx context.Context, req EventsRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, EventsPath, map[string]any{
		"method":      "POST",
		"credentials": "include",
		"headers":     map[string]string{"Content-Type": "application/json"},
		"body":        string(body),
	})
}

// PostEventsWithCookies sends the request from the Go side with an explicit
// cookie header, so the call does not depend on the tab's state.
func (s *BrowserSession) PostEventsWithCookies(ctx context.Context, cookieHeader string, req EventsRequest) ([]byte, error) {
	cookies, err := ParseCookies(cookieHeader)
	if err != nil {
		return nil, err
	}
	direct := NewHTTPSession(HTTPOptions{BaseURL: s.opts.BaseURL, Cookies: cookies, Timeout: s.opts.Timeout})
	defer direct.Close()
	return direct.PostEventsWithCookies(ctx, cookieHeader, req)
}

func (s *BrowserSession) GetJSON(ctx context.Context, path string) ([]byte, error) {
	return s.fetch(ctx, path, map[string]any{
		"method":      "GET",
		"credentials": "include",
		"headers":     map[string]string{"Accept": "application/json"},
	})
}

type domTable struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

const tableScript = `(() => {
  const table = document.querySelector('table');
  if (!table) return { headers: [], rows: [] };
  const headers = Array.from(table.querySelectorAll('thead th')).map(th => th.innerText.trim());
  const rows = Array.from(table.querySelectorAll('tbody tr')).map(tr =>
    Array.from(tr.querySelectorAll('td')).map(td => td.innerText.trim()));
  return { headers, rows };
})()`

// ExtractRows scrapes the rendered usage table.
func (s *BrowserSession) ExtractRows(ctx context.Context) ([]usage.DOMRow, error) {
	if err := s.ensureDashboard(ctx); err != nil {
		return nil, err
	}
	var table domTable
	err := s.run(ctx, s.opts.Timeout,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(tableScript, &table),
	)
	if err != nil {
		return nil, fmt.Errorf("extract usage table: %w", err)
	}
	return rowsFromTable(table.Headers, table.Rows), nil
}

// rowsFromTable maps cells by header text, falling back to the dashboard's
// default column order (date, kind, model, tokens, cost).
func rowsFromTable(headers []string, rows [][]string) []usage.DOMRow {
	col := map[string]int{"date": 0, "kind": 1, "model": 2, "tokens": 3, "cost": 4}
	for i, h := range headers {
		h = strings.ToLower(h)
		switch {
		case strings.Contains(h, "date"), strings.Contains(h, "time"):
			col["date"] = i
		case strings.Contains(h, "kind"), strings.Contains(h, "type"):
			col["kind"] = i
		case strings.Contains(h, "model"):
			col["model"] = i
		case strings.Contains(h, "token"):
			col["tokens"] = i
		case strings.Contains(h, "cost"), strings.Contains(h, "price"):
			col["cost"] = i
		}
	}
	cell := func(row []string, key string) string {
		i := col[key]
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}
	out := make([]usage.DOMRow, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		out = append(out, usage.DOMRow{
			Date:   cell(row, "date"),
			Model:  cell(row, "model"),
			Kind:   cell(row, "kind"),
			Tokens: cell(row, "tokens"),
			Cost:   cell(row, "cost"),
		})
	}
	return out
}

func (s *BrowserSession) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}
