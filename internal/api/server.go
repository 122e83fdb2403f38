// Package api serves the read-only operations surface: health, live
// classroom inspection and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"classhub/pkg/types"
)

// Roster is the registry view the API reads.
type Roster interface {
	Stats() map[string]int
	ListByClass(classID string, role types.Role) []types.ParticipantInfo
}

// States is the classroom store view the API reads.
type States interface {
	Classes() []string
	Snapshot(classID string) (types.ClassroomSnapshot, error)
}

// Queues reports how many per-class command queues are running.
type Queues interface {
	ActiveQueues() int
}

// Pinger checks the roster directory. *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps groups the server's collaborators. Metrics may be nil.
type Deps struct {
	Roster      Roster
	States      States
	Queues      Queues
	Directory   Pinger
	Metrics     http.Handler
	MetricsPath string
	Now         func() time.Time
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No classroom mutations happen here; control flows only over the sockets
type Server struct {
	deps    Deps
	router  *mux.Router
	logger  *slog.Logger
	started time.Time
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		logger:  logger,
		started: deps.Now(),
	}
	s.setupRoutes()
	return s
}

// Router exposes the mux so the socket endpoints can be mounted beside the API.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, jsonMiddleware)
	api.HandleFunc("/classes", s.listClasses).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/classes/{classId}", s.getClass).Methods(http.MethodGet, http.MethodOptions)

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle(s.deps.MetricsPath, s.deps.Metrics).Methods(http.MethodGet)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ClassSummary struct {
	ClassID      string     `json:"classId"`
	Mode         types.Mode `json:"currentMode"`
	Teachers     int        `json:"teachers"`
	Students     int        `json:"students"`
	Timers       int        `json:"timers"`
	AllLocked    bool       `json:"allLocked"`
	LastActivity time.Time  `json:"lastActivity"`
}

type ListClassesResponse struct {
	Classes []ClassSummary `json:"classes"`
}

type ClassResponse struct {
	Snapshot     types.ClassroomSnapshot `json:"snapshot"`
	Participants []types.ParticipantInfo `json:"participants"`
}

type HealthResponse struct {
	Status       string         `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	Directory    string         `json:"directory"`
	Connections  map[string]int `json:"connections"`
	ActiveQueues int            `json:"activeQueues"`
	Uptime       string         `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/classes lists every live classroom, sorted by id.
func (s *Server) listClasses(w http.ResponseWriter, r *http.Request) {
	ids := s.deps.States.Classes()
	sort.Strings(ids)

	resp := ListClassesResponse{Classes: make([]ClassSummary, 0, len(ids))}
	for _, id := range ids {
		snap, err := s.deps.States.Snapshot(id)
		if err != nil {
			// reclaimed between Classes and Snapshot
			continue
		}
		resp.Classes = append(resp.Classes, ClassSummary{
			ClassID:      id,
			Mode:         snap.Mode,
			Teachers:     len(s.deps.Roster.ListByClass(id, types.RoleTeacher)),
			Students:     len(snap.ConnectedStudents),
			Timers:       len(snap.Timers),
			AllLocked:    snap.AllLocked,
			LastActivity: snap.LastActivity,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /api/classes/{classId}
func (s *Server) getClass(w http.ResponseWriter, r *http.Request) {
	classID := mux.Vars(r)["classId"]
	snap, err := s.deps.States.Snapshot(classID)
	if errors.Is(err, types.ErrClassNotFound) {
		s.sendError(w, "Class not active", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("snapshot failed", "class_id", classID, "error", err)
		s.sendError(w, "Failed to read class", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, ClassResponse{
		Snapshot:     snap,
		Participants: s.deps.Roster.ListByClass(classID, ""),
	})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
// Returns 503 when the roster directory does not answer, since no one can be admitted
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := s.deps.Now()
	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   now,
		Directory:   "healthy",
		Connections: s.deps.Roster.Stats(),
		Uptime:      now.Sub(s.started).Round(time.Second).String(),
	}
	if s.deps.Queues != nil {
		resp.ActiveQueues = s.deps.Queues.ActiveQueues()
	}
	if s.deps.Directory != nil {
		if err := s.deps.Directory.PingContext(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Directory = "error: " + err.Error()
		}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables dashboard access from other origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
