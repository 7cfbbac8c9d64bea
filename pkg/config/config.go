package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName = "config.toml"
	appDirName            = "cursor-usage-tracker"

	DefaultBaseURL = "https://cursor.com"

	DefaultPageSize = 500
	MinPageSize     = 100
	MaxPageSize     = 1000
)

type SyncConfig struct {
	ActiveWindowHours int `toml:"active_window_hours"`
	MaxActiveEvents   int `toml:"max_active_events"`
	DefaultPageSize   int `toml:"default_page_size"`
	MinPageSize       int `toml:"min_page_size"`
	MaxPageSize       int `toml:"max_page_size"`
	PageDelayMS       int `toml:"page_delay_ms"`
	MaxPages          int `toml:"max_pages"`
	ReconcileDays     int `toml:"reconcile_days"`
}

type BrowserConfig struct {
	Enabled         bool   `toml:"enabled"`
	Headless        bool   `toml:"headless"`
	ExecPath        string `toml:"exec_path,omitempty"`
	AuthWaitSeconds int    `toml:"auth_wait_seconds"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain"`
	Email    string `toml:"email"`
	CacheDir string `toml:"cache_dir"`
}

type Config struct {
	ListenAddr             string        `toml:"listen_addr"`
	DataDir                string        `toml:"data_dir"`
	BaseURL                string        `toml:"base_url"`
	TeamID                 int           `toml:"team_id"`
	CookieFile             string        `toml:"cookie_file,omitempty"`
	Cookie                 string        `toml:"cookie,omitempty"`
	CollectIntervalSeconds int           `toml:"collect_interval_seconds"`
	RequestTimeoutSeconds  int           `toml:"request_timeout_seconds"`
	RetentionDays          int           `toml:"retention_days"`
	Sync                   SyncConfig    `toml:"sync"`
	Browser                BrowserConfig `toml:"browser"`
	TLS                    TLSConfig     `toml:"tls"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", appDirName, defaultConfigFileName)
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", appDirName)
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", appDirName, "tls-autocert")
}

func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:             "127.0.0.1:3000",
		DataDir:                DefaultDataDir(),
		BaseURL:                DefaultBaseURL,
		CollectIntervalSeconds: 300,
		RequestTimeoutSeconds:  30,
		Sync: SyncConfig{
			ActiveWindowHours: 24,
			MaxActiveEvents:   100,
			DefaultPageSize:   DefaultPageSize,
			MinPageSize:       MinPageSize,
			MaxPageSize:       MaxPageSize,
			PageDelayMS:       500,
			MaxPages:          1000,
			ReconcileDays:     30,
		},
		Browser: BrowserConfig{
			Enabled:         false,
			Headless:        true,
			AuthWaitSeconds: 60,
		},
		TLS: TLSConfig{
			CacheDir: DefaultTLSCacheDir(),
		},
	}
}

func (c *Config) CollectInterval() time.Duration {
	return time.Duration(c.CollectIntervalSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ActiveWindow() time.Duration {
	return time.Duration(c.Sync.ActiveWindowHours) * time.Hour
}

func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.Sync.PageDelayMS) * time.Millisecond
}

func (c *Config) AuthWait() time.Duration {
	return time.Duration(c.Browser.AuthWaitSeconds) * time.Second
}

// Load reads path and applies environment overrides. A missing file yields
// an error wrapping os.ErrNotExist.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return finish(NewDefaultConfig())
}

func LoadOrCreate(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, NewDefaultConfig()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv loads an optional .env file from the working directory and lets
// environment variables override file settings.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()
	if v := strings.TrimSpace(os.Getenv("CURSOR_COOKIE")); v != "" {
		cfg.Cookie = v
	}
	if v := strings.TrimSpace(os.Getenv("CURSOR_COOKIE_FILE")); v != "" {
		cfg.CookieFile = v
	}
	if v := strings.TrimSpace(os.Getenv("CURSOR_TEAM_ID")); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.TeamID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv("CUT_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CUT_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
}

func (c *Config) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:3000"
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.CookieFile = strings.TrimSpace(c.CookieFile)
	c.Cookie = strings.TrimSpace(c.Cookie)
	if c.CollectIntervalSeconds <= 0 {
		c.CollectIntervalSeconds = 300
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 30
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
	s := &c.Sync
	if s.ActiveWindowHours <= 0 {
		s.ActiveWindowHours = 24
	}
	if s.MaxActiveEvents <= 0 {
		s.MaxActiveEvents = 100
	}
	if s.MinPageSize <= 0 {
		s.MinPageSize = MinPageSize
	}
	if s.MaxPageSize <= 0 {
		s.MaxPageSize = MaxPageSize
	}
	if s.DefaultPageSize <= 0 {
		s.DefaultPageSize = DefaultPageSize
	}
	if s.PageDelayMS < 0 {
		s.PageDelayMS = 0
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 1000
	}
	if s.ReconcileDays <= 0 {
		s.ReconcileDays = 30
	}
	c.Browser.ExecPath = strings.TrimSpace(c.Browser.ExecPath)
	if c.Browser.AuthWaitSeconds <= 0 {
		c.Browser.AuthWaitSeconds = 60
	}
	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http(s) URL, got %q", c.BaseURL)
	}
	if c.Sync.MinPageSize > c.Sync.MaxPageSize {
		return errors.New("sync.min_page_size must be <= sync.max_page_size")
	}
	if c.Sync.DefaultPageSize < c.Sync.MinPageSize || c.Sync.DefaultPageSize > c.Sync.MaxPageSize {
		return fmt.Errorf("sync.default_page_size must be within [%d, %d]", c.Sync.MinPageSize, c.Sync.MaxPageSize)
	}
	if c.CollectIntervalSeconds < 10 {
		return errors.New("collect_interval_seconds must be >= 10")
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls.enabled=true")
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := marshalTOML(cfg)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}
