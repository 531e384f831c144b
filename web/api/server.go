// Package api exposes the dispatch subsystem over HTTP: action submission,
// task queries, nonce-based cancellation, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intexuraos/code-dispatch/internal/dispatch"
	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/mirror"
	"github.com/intexuraos/code-dispatch/internal/taskstore"
)

// Store is the slice of the task store the API needs
type Store interface {
	Get(ctx context.Context, id string) (*domain.CodeTask, error)
	List(ctx context.Context, opts taskstore.ListOptions) ([]*domain.CodeTask, error)
	Update(ctx context.Context, id string, patch taskstore.TaskPatch) (*domain.CodeTask, error)
}

// Orchestrator processes approved code actions
type Orchestrator interface {
	ProcessCodeAction(ctx context.Context, input dispatch.ProcessInput) (*dispatch.ProcessResult, error)
}

// Server is the HTTP API server
type Server struct {
	store  Store
	orch   Orchestrator
	mirror *mirror.Mirror
	logger *slog.Logger
	mux    *http.ServeMux
	addr   string
}

// NewServer creates a new API server
func NewServer(store Store, orch Orchestrator, statusMirror *mirror.Mirror, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		orch:   orch,
		mirror: statusMirror,
		logger: logger,
		mux:    http.NewServeMux(),
		addr:   addr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/actions", s.submitActionHandler)
	s.mux.HandleFunc("GET /api/tasks", s.listTasksHandler)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.getTaskHandler)
	s.mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTaskHandler)
	s.mux.HandleFunc("GET /healthz", s.healthzHandler)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the server's root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{Addr: s.addr, Handler: s.mux}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	s.logger.Info("api server listening", slog.String("addr", s.addr))
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code,omitempty"`
	ExistingTaskID string `json:"existingTaskId,omitempty"`
}

// writeError maps domain errors onto HTTP responses. Duplicates surface the
// existing task's id so clients can redirect instead of retrying.
func writeError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := errorResponse{
		Error:          derr.Message,
		Code:           string(derr.Code),
		ExistingTaskID: derr.ExistingTaskID,
	}

	switch {
	case derr.IsDuplicate():
		writeJSON(w, http.StatusConflict, resp)
	case derr.Code == domain.ErrWorkerUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case derr.Code == domain.ErrNotFound:
		writeJSON(w, http.StatusNotFound, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}
