package dashboard

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Viaszx/cursor-usage-tracker/pkg/assets"
	"github.com/Viaszx/cursor-usage-tracker/pkg/collector"
	"github.com/Viaszx/cursor-usage-tracker/pkg/store"
	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
	"github.com/Viaszx/cursor-usage-tracker/pkg/version"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "index.html", map[string]any{
		"Version": version.String(),
	}); err != nil {
		slog.Error("render dashboard", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	b, ct, err := assets.LoadStaticAsset(chi.URLParam(r, "*"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(b)
}

// handleUsage returns the stored dataset. limit trims the events list
// without changing totalEvents.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ds, err := s.opts.Store.LoadDataset()
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, usage.Dataset{Events: []usage.Event{}})
		return
	}
	if err != nil {
		slog.Error("load dataset", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load usage data")
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(ds.Events) {
			ds.Events = ds.Events[:n]
		}
	}
	if r.URL.Query().Get("raw") != "1" {
		for i := range ds.Events {
			ds.Events[i].RawData = nil
		}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st, err := s.opts.Store.LoadStats()
	if errors.Is(err, store.ErrNotFound) {
		empty := usage.ComputeStats(nil, s.now())
		writeJSON(w, http.StatusOK, empty)
		return
	}
	if err != nil {
		slog.Error("load stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUser(w http.ResponseWriter, _ *http.Request) {
	var (
		info usage.UserInfo
		err  error
	)
	if s.opts.Collector != nil {
		info, err = s.opts.Collector.UserInfo()
	} else {
		var stored *usage.UserInfo
		stored, err = s.opts.Store.LoadUserInfo()
		if stored != nil {
			info = *stored
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no user info collected yet")
		return
	}
	if err != nil {
		slog.Error("load user info", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load user info")
		return
	}
	info.Raw = nil
	writeJSON(w, http.StatusOK, info)
}

type statusResponse struct {
	Busy        bool              `json:"busy"`
	Last        *collector.Result `json:"last,omitempty"`
	Subscribers int               `json:"subscribers"`
	Version     string            `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Subscribers: s.opts.Hub.Subscribers(),
		Version:     version.String(),
	}
	if s.opts.Collector != nil {
		resp.Busy = s.opts.Collector.Busy()
		if last, ok := s.opts.Collector.LastResult(); ok {
			resp.Last = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	lines := []string{}
	if s.opts.Logs != nil {
		lines = s.opts.Logs.Lines()
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "collector not running")
		return
	}
	busy := s.opts.Collector != nil && s.opts.Collector.Busy()
	s.opts.Trigger.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "busy": busy})
}
