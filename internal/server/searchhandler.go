package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/TonyKrueger/support-agent-one/internal/logging"
	"github.com/TonyKrueger/support-agent-one/internal/search"
)

// handleSearch handles POST /api/search. The query is embedded and matched
// against the stored chunks; results are ranked by similarity.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	opts := search.Options{
		Limit:          req.Limit,
		Threshold:      req.Threshold,
		IncludeContext: req.IncludeContext,
		Filter:         req.Filter,
	}

	resp, err := s.searcher.SearchByStrategy(r.Context(), req.Query, req.Strategy, opts)
	if err != nil {
		if errors.Is(err, search.ErrUnknownStrategy) {
			s.metrics.searchTotal.WithLabelValues("invalid").Inc()
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.metrics.searchTotal.WithLabelValues("error").Inc()
		logging.FromContext(r.Context()).Error("search failed", slog.Any("error", err))
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	s.metrics.searchTotal.WithLabelValues("ok").Inc()
	if resp.Results == nil {
		resp.Results = []search.Result{}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
