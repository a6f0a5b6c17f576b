package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/urlredirector/urlredirector/internal/dnr"
	"github.com/urlredirector/urlredirector/internal/engine"
	"github.com/urlredirector/urlredirector/internal/rule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("json.Encoder.Encode", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": s.version,
	})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.cfg
	if cfg.API.Secret != "" {
		cfg.API.Secret = "******"
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *APIServer) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *APIServer) handleCompiledRules(w http.ResponseWriter, r *http.Request) {
	rules, stats := s.engine.Compiled()
	writeJSON(w, http.StatusOK, struct {
		Rules []dnr.Rule `json:"rules"`
		Stats dnr.Stats  `json:"stats"`
	}{rules, stats})
}

type resolveResponse struct {
	URL     string     `json:"url"`
	Matched bool       `json:"matched"`
	Trace   rule.Trace `json:"trace"`
}

func (s *APIServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := rule.Request{URL: q.Get("url"), Method: q.Get("method"), Type: q.Get("type")}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing url"))
		return
	}
	url, matched := s.engine.Resolve(req)
	writeJSON(w, http.StatusOK, resolveResponse{
		URL:     url,
		Matched: matched,
		Trace:   s.engine.Trace(req),
	})
}

func (s *APIServer) handleRefreshing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"refreshing": s.engine.Refreshing()})
}

func (s *APIServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Refresh(r.Context())
	switch {
	case errors.Is(err, engine.ErrRefreshInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		// the report is still useful when only saving failed
		slog.Error("engine.Refresh", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
	default:
		writeJSON(w, http.StatusOK, report)
	}
}
