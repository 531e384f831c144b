package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/intexuraos/code-dispatch/internal/dispatch"
	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/mirror"
	"github.com/intexuraos/code-dispatch/internal/taskstore"
)

type submitActionRequest struct {
	ActionID         string `json:"actionId"`
	ApprovalEventID  string `json:"approvalEventId"`
	UserID           string `json:"userId"`
	Prompt           string `json:"prompt"`
	WorkerType       string `json:"workerType"`
	LinearIssueID    string `json:"linearIssueId"`
	LinearIssueTitle string `json:"linearIssueTitle"`
	Repository       string `json:"repository"`
	BaseBranch       string `json:"baseBranch"`
	TraceID          string `json:"traceId"`
	Source           string `json:"source"`
}

type submitActionResponse struct {
	CodeTaskID     string `json:"codeTaskId"`
	ResourceURL    string `json:"resourceUrl"`
	WorkerLocation string `json:"workerLocation"`
}

func (s *Server) submitActionHandler(w http.ResponseWriter, r *http.Request) {
	var req submitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.UserID == "" || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId and prompt are required"})
		return
	}

	result, err := s.orch.ProcessCodeAction(r.Context(), dispatch.ProcessInput{
		ActionID:         req.ActionID,
		ApprovalEventID:  req.ApprovalEventID,
		UserID:           req.UserID,
		Prompt:           req.Prompt,
		WorkerType:       domain.WorkerType(req.WorkerType),
		LinearIssueID:    req.LinearIssueID,
		LinearIssueTitle: req.LinearIssueTitle,
		Repository:       req.Repository,
		BaseBranch:       req.BaseBranch,
		TraceID:          req.TraceID,
		Source:           req.Source,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitActionResponse{
		CodeTaskID:     result.CodeTaskID,
		ResourceURL:    result.ResourceURL,
		WorkerLocation: string(result.WorkerLocation),
	})
}

// taskView is the wire representation of a task. The cancel nonce is never
// exposed through read endpoints; it only travels in the started
// notification.
type taskView struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Prompt         string            `json:"prompt"`
	Status         string            `json:"status"`
	WorkerType     string            `json:"workerType"`
	WorkerLocation string            `json:"workerLocation,omitempty"`
	Repository     string            `json:"repository,omitempty"`
	BaseBranch     string            `json:"baseBranch,omitempty"`
	LinearIssueID  string            `json:"linearIssueId,omitempty"`
	Error          *domain.TaskError `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

func toTaskView(t *domain.CodeTask) taskView {
	return taskView{
		ID:             t.ID,
		UserID:         t.UserID,
		Prompt:         t.Prompt,
		Status:         string(t.Status),
		WorkerType:     string(t.WorkerType),
		WorkerLocation: string(t.WorkerLocation),
		Repository:     t.Repository,
		BaseBranch:     t.BaseBranch,
		LinearIssueID:  t.LinearIssueID,
		Error:          t.Error,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	opts := taskstore.ListOptions{
		UserID: r.URL.Query().Get("userId"),
		Status: domain.TaskStatus(r.URL.Query().Get("status")),
		Limit:  100,
	}

	tasks, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(task))
}

type cancelTaskRequest struct {
	Nonce string `json:"nonce"`
}

// cancelTaskHandler consumes the cancel nonce issued at dispatch time. The
// nonce is a capability token: valid only while unexpired, checked against
// the stored value, and useless once the task is terminal.
func (s *Server) cancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req cancelTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	task, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if task.Status.IsTerminal() {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "task already reached a terminal state",
			Code:  string(task.Status),
		})
		return
	}

	if !task.CancelNonceValid(req.Nonce, time.Now()) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "invalid or expired cancel nonce"})
		return
	}

	status := domain.StatusCancelled
	updated, err := s.store.Update(r.Context(), task.ID, taskstore.TaskPatch{Status: &status})
	if err != nil {
		writeError(w, err)
		return
	}

	if s.mirror != nil {
		s.mirror.MirrorStatus(r.Context(), mirror.Params{
			ActionID:   task.ActionID,
			TaskStatus: domain.StatusCancelled,
			TraceID:    task.TraceID,
		})
	}

	writeJSON(w, http.StatusOK, toTaskView(updated))
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
