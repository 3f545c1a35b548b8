package localapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Avis2912/magnus/internal/journal"
)

func (s *Server) registerRunRoutes() {
	s.mux.HandleFunc("/api/v1/runs", s.handleListRuns)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if s.deps.Journal == nil {
		respondOK(w, map[string]any{"runs": []journal.Entry{}})
		return
	}
	runs, err := s.deps.Journal.List(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "RUNS_LOAD_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]any{"runs": runs})
}
