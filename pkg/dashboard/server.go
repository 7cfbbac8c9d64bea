// Package dashboard serves the collected usage data: a small web page, a
// JSON API, a websocket that announces updates, and prometheus metrics.
package dashboard

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/acme/autocert"

	"github.com/Viaszx/cursor-usage-tracker/pkg/assets"
	"github.com/Viaszx/cursor-usage-tracker/pkg/collector"
	"github.com/Viaszx/cursor-usage-tracker/pkg/config"
	"github.com/Viaszx/cursor-usage-tracker/pkg/logutil"
	"github.com/Viaszx/cursor-usage-tracker/pkg/metrics"
	"github.com/Viaszx/cursor-usage-tracker/pkg/store"
	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

// Collector is the read side of the collection pipeline.
type Collector interface {
	Busy() bool
	LastResult() (collector.Result, bool)
	UserInfo() (usage.UserInfo, error)
}

type Triggerer interface {
	Trigger()
}

type Options struct {
	Config    *config.Config
	Store     *store.Store
	Collector Collector
	Trigger   Triggerer
	Hub       *Hub
	Metrics   *metrics.Metrics
	Logs      *logutil.Ring
}

type Server struct {
	opts       Options
	templates  *template.Template
	handler    http.Handler
	httpServer *http.Server
	now        func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	tpl, err := assets.ParseTemplates()
	if err != nil {
		return nil, err
	}
	s := &Server{opts: opts, templates: tpl, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observeMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/static/*", s.handleStatic)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", opts.Metrics.Handler())
	r.Get("/ws", opts.Hub.ServeHTTP)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.NoCache)
		api.Get("/usage", s.handleUsage)
		api.Get("/stats", s.handleStats)
		api.Get("/user", s.handleUser)
		api.Get("/status", s.handleStatus)
		api.Get("/logs", s.handleLogs)
		api.Post("/sync", s.handleSync)
	})
	s.handler = r

	addr := "127.0.0.1:3000"
	if opts.Config != nil {
		addr = opts.Config.ListenAddr
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled. With TLS enabled it answers ACME
// challenges on :80 and serves HTTPS on :443 like any autocert host.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	cfg := s.opts.Config
	if cfg != nil && cfg.TLS.Enabled {
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.Domain),
			Email:      cfg.TLS.Email,
		}
		httpsSrv := &http.Server{
			Addr:              ":443",
			Handler:           s.handler,
			ReadHeaderTimeout: s.httpServer.ReadHeaderTimeout,
			ReadTimeout:       s.httpServer.ReadTimeout,
			IdleTimeout:       s.httpServer.IdleTimeout,
			TLSConfig:         &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12},
		}
		challenge := &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http challenge/redirect listening", "addr", challenge.Addr)
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http challenge server: %w", err)
			}
		}()
		go func() {
			slog.Info("dashboard listening", "addr", httpsSrv.Addr, "domain", cfg.TLS.Domain)
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()
		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = challenge.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
		return firstErr(errCh)
	}

	go func() {
		slog.Info("dashboard listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("dashboard server: %w", err)
		}
	}()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	return firstErr(errCh)
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		s.opts.Metrics.ObserveHTTP(r.Method, route, ww.Status(), elapsed)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func firstErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
