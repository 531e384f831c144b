package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/observability"
	"github.com/intexuraos/code-dispatch/internal/workers"
)

// IntakeTimeout bounds the outbound call to a worker's intake endpoint
const IntakeTimeout = 30 * time.Second

// Request is everything a worker needs to start executing a task
type Request struct {
	TaskID           string            `json:"taskId"`
	Prompt           string            `json:"prompt"`
	SystemPromptHash string            `json:"systemPromptHash"`
	Repository       string            `json:"repository,omitempty"`
	BaseBranch       string            `json:"baseBranch,omitempty"`
	WorkerType       domain.WorkerType `json:"workerType"`
	WebhookURL       string            `json:"webhookUrl"`
	WebhookSecret    string            `json:"webhookSecret"`
	TraceID          string            `json:"traceId,omitempty"`
	LinearIssueID    string            `json:"linearIssueId,omitempty"`
}

// Result reports where a task landed
type Result struct {
	Location    domain.WorkerLocation
	ResourceURL string
}

// Dispatcher selects a worker and hands it a task
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*Result, error)
}

// intakeResponse is the worker's reply to an accepted task
type intakeResponse struct {
	ResourceURL string `json:"resourceUrl"`
}

// WorkerDispatcher dispatches over HTTP to the intake endpoint of whichever
// worker discovery selects
type WorkerDispatcher struct {
	discovery *workers.Discovery
	client    *http.Client
	logger    *slog.Logger
}

// NewWorkerDispatcher creates a dispatcher backed by worker discovery
func NewWorkerDispatcher(discovery *workers.Discovery, logger *slog.Logger) *WorkerDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerDispatcher{
		discovery: discovery,
		client:    &http.Client{Timeout: IntakeTimeout},
		logger:    logger,
	}
}

// Dispatch picks the best available worker and posts the task to its intake
// endpoint. The worker calls back asynchronously on req.WebhookURL,
// authenticated with req.WebhookSecret.
func (d *WorkerDispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	worker, err := d.discovery.FindAvailableWorker(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, domain.NewError(domain.ErrInternal, "marshaling intake request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, IntakeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, worker.BaseURL+"/tasks", bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewError(domain.ErrInternal, "building intake request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	observability.DispatchDuration.WithLabelValues(string(worker.Location)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, domain.NewError(domain.ErrNetwork, "intake call to %s: %v", worker.Location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewError(domain.ErrWorkerUnavailable,
			"worker %s rejected task: status %d", worker.Location, resp.StatusCode)
	}

	var body intakeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// Acceptance already happened; a missing or malformed body only
		// costs us the resource URL.
		d.logger.Debug("intake response body not parseable",
			slog.String("location", string(worker.Location)),
			slog.String("error", err.Error()))
	}

	resourceURL := body.ResourceURL
	if resourceURL == "" {
		resourceURL = fmt.Sprintf("%s/tasks/%s", worker.BaseURL, req.TaskID)
	}

	return &Result{Location: worker.Location, ResourceURL: resourceURL}, nil
}
