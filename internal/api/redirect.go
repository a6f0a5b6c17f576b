package api

import (
	"errors"
	"net/http"

	"github.com/urlredirector/urlredirector/internal/rule"
)

// handleRedirect answers with the resolved URL as a redirect, 302 unless
// code=307 is given, so a browser can be pointed at the service directly.
func (s *APIServer) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := rule.Request{URL: q.Get("url"), Method: q.Get("method"), Type: q.Get("type")}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing url"))
		return
	}

	target, ok := s.engine.Resolve(req)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no rule matches"))
		return
	}

	code := http.StatusFound
	if q.Get("code") == "307" {
		code = http.StatusTemporaryRedirect
	}
	http.Redirect(w, r, target, code)
}
