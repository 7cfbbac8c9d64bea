package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// SessionCookieName is the cookie that carries the dashboard login.
const SessionCookieName = "WorkosCursorSessionToken"

// Cookie mirrors the fields browser cookie exporters emit.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expirationDate,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
}

// LoadCookies reads a cookie file holding either a JSON array of exported
// cookies or a raw "name=value; name2=value2" header line.
func LoadCookies(path string) ([]Cookie, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return ParseCookies(string(b))
}

func ParseCookies(raw string) ([]Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []Cookie
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("parse cookie json: %w", err)
		}
		return compactCookies(out), nil
	}
	raw = strings.TrimPrefix(raw, "Cookie:")
	var out []Cookie
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		out = append(out, Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return compactCookies(out), nil
}

func compactCookies(in []Cookie) []Cookie {
	out := in[:0]
	for _, c := range in {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func HasSessionCookie(cookies []Cookie) bool {
	for _, c := range cookies {
		if c.Name == SessionCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

type cookieRoundTripper struct {
	Base      http.RoundTripper
	Header    string
	UserAgent string
}

func (rt cookieRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	out := req.Clone(req.Context())
	out.Header = req.Header.Clone()
	if out.Header.Get("Cookie") == "" && rt.Header != "" {
		out.Header.Set("Cookie", rt.Header)
	}
	if rt.UserAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", rt.UserAgent)
	}
	return base.RoundTrip(out)
}
