package localapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Avis2912/magnus/internal/journal"
	"github.com/Avis2912/magnus/internal/task"
)

const DefaultHeartbeat = 5 * time.Second

var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}

type TaskStore interface {
	Get(id string) (task.Task, error)
	List() []task.Task
	Snapshot(id string) (task.Task, *task.Channel, error)
}

type TaskRunner interface {
	Submit(prompt string) (task.Task, error)
}

type RunJournal interface {
	List(limit int) ([]journal.Entry, error)
}

type Deps struct {
	Tasks   TaskStore
	Runner  TaskRunner
	Journal RunJournal
	Logger  *slog.Logger

	// Heartbeat is the idle interval of event streams.
	Heartbeat      time.Duration
	AllowedOrigins []string
}

type Server struct {
	deps      Deps
	mux       *http.ServeMux
	logger    *slog.Logger
	heartbeat time.Duration
	origins   map[string]struct{}
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux(), logger: deps.Logger, heartbeat: deps.Heartbeat}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("module", "localapi")
	if s.heartbeat <= 0 {
		s.heartbeat = DefaultHeartbeat
	}
	origins := deps.AllowedOrigins
	if origins == nil {
		origins = DefaultAllowedOrigins
	}
	s.origins = map[string]struct{}{}
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			s.origins[o] = struct{}{}
		}
	}
	s.registerTaskRoutes()
	s.registerRunRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withCORS(s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
