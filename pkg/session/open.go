package session

import (
	"fmt"
	"log/slog"

	"github.com/Viaszx/cursor-usage-tracker/pkg/config"
)

// ResolveCookies prefers an inline cookie (CURSOR_COOKIE) over the cookie
// file.
func ResolveCookies(cfg *config.Config) ([]Cookie, error) {
	if cfg.Cookie != "" {
		return ParseCookies(cfg.Cookie)
	}
	if cfg.CookieFile != "" {
		return LoadCookies(cfg.CookieFile)
	}
	return nil, nil
}

// Open builds the provider selected by cfg.
func Open(cfg *config.Config) (Provider, error) {
	cookies, err := ResolveCookies(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Browser.Enabled {
		slog.Info("starting browser session", "headless", cfg.Browser.Headless, "cookies", len(cookies))
		b, err := NewBrowserSession(BrowserOptions{
			BaseURL:  cfg.BaseURL,
			Cookies:  cookies,
			Headless: cfg.Browser.Headless,
			ExecPath: cfg.Browser.ExecPath,
			AuthWait: cfg.AuthWait(),
			Timeout:  cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: set cookie_file or CURSOR_COOKIE", ErrNotAuthenticated)
	}
	return NewHTTPSession(HTTPOptions{
		BaseURL: cfg.BaseURL,
		Cookies: cookies,
		Timeout: cfg.RequestTimeout(),
	}), nil
}
