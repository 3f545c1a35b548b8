package localapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Avis2912/magnus/internal/task"
)

func (s *Server) registerTaskRoutes() {
	s.mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/v1/tasks/", s.handleTaskActions)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		respondOK(w, map[string]any{"tasks": s.deps.Tasks.List()})
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PROMPT", "prompt is required")
		return
	}
	t, err := s.deps.Runner.Submit(req.Prompt)
	if err != nil {
		s.logger.Error("submit task failed", "err", err)
		respondError(w, http.StatusInternalServerError, "TASK_CREATE_FAILED", err.Error())
		return
	}
	s.logger.Info("task submitted", "task", t.ID)
	respondOK(w, map[string]any{"task_id": t.ID})
}

func (s *Server) handleTaskActions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	taskID := parts[0]
	if len(parts) == 1 {
		s.handleGetTask(w, taskID)
		return
	}
	switch parts[1] {
	case "events":
		s.handleTaskEvents(w, r, taskID)
	case "ws":
		s.handleTaskWS(w, r, taskID)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, taskID string) {
	t, err := s.deps.Tasks.Get(taskID)
	if errors.Is(err, task.ErrNotFound) {
		respondError(w, http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "TASK_LOAD_FAILED", err.Error())
		return
	}
	respondOK(w, t)
}
