// Package dispatch turns approved code actions into running tasks on remote
// workers: it creates the task record, generates per-task dispatch
// credentials, calls the chosen worker's intake endpoint, and arms the
// cancellation window.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/mirror"
	"github.com/intexuraos/code-dispatch/internal/notify"
	"github.com/intexuraos/code-dispatch/internal/observability"
	"github.com/intexuraos/code-dispatch/internal/taskstore"
)

// sideEffectTimeout bounds each fire-and-forget side effect
const sideEffectTimeout = 15 * time.Second

// TaskStore is the slice of the task store the orchestrator needs
type TaskStore interface {
	Create(ctx context.Context, params taskstore.CreateTaskParams) (*domain.CodeTask, error)
	Update(ctx context.Context, id string, patch taskstore.TaskPatch) (*domain.CodeTask, error)
}

// ProcessInput describes one approved code action to dispatch
type ProcessInput struct {
	ActionID         string
	ApprovalEventID  string
	UserID           string
	Prompt           string
	WorkerType       domain.WorkerType
	LinearIssueID    string
	LinearIssueTitle string
	Repository       string
	BaseBranch       string
	TraceID          string
	Source           string
}

// ProcessResult is returned to the caller on successful dispatch
type ProcessResult struct {
	CodeTaskID     string
	ResourceURL    string
	WorkerLocation domain.WorkerLocation
}

// Orchestrator implements processCodeAction. Only duplicate detection and
// dispatch failure are caller-visible errors; every post-dispatch side
// effect is spawned and logged, never propagated.
type Orchestrator struct {
	store      TaskStore
	dispatcher Dispatcher
	notifier   notify.Notifier
	mirror     *mirror.Mirror
	logger     *slog.Logger

	webhookBaseURL      string
	systemPromptVersion string

	wg sync.WaitGroup
}

// NewOrchestrator wires the dispatch use case together
func NewOrchestrator(store TaskStore, dispatcher Dispatcher, notifier notify.Notifier, statusMirror *mirror.Mirror, webhookBaseURL, systemPromptVersion string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Orchestrator{
		store:               store,
		dispatcher:          dispatcher,
		notifier:            notifier,
		mirror:              statusMirror,
		logger:              logger,
		webhookBaseURL:      strings.TrimRight(webhookBaseURL, "/"),
		systemPromptVersion: systemPromptVersion,
	}
}

// ProcessCodeAction creates a deduplicated task record and dispatches it to
// the best available worker.
func (o *Orchestrator) ProcessCodeAction(ctx context.Context, input ProcessInput) (*ProcessResult, error) {
	sanitized := sanitizePrompt(input.Prompt)
	promptHash := systemPromptHash(o.systemPromptVersion)

	workerType := input.WorkerType
	if workerType == "" {
		workerType = domain.WorkerTypeDefault
	}

	task, err := o.store.Create(ctx, taskstore.CreateTaskParams{
		DedupKey:         domain.DedupKey(input.UserID, sanitized, o.systemPromptVersion),
		ActionID:         input.ActionID,
		ApprovalEventID:  input.ApprovalEventID,
		UserID:           input.UserID,
		Prompt:           input.Prompt,
		SanitizedPrompt:  sanitized,
		SystemPromptHash: promptHash,
		WorkerType:       workerType,
		Repository:       input.Repository,
		BaseBranch:       input.BaseBranch,
		TraceID:          input.TraceID,
		LinearIssueID:    input.LinearIssueID,
		LinearIssueTitle: input.LinearIssueTitle,
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.IsDuplicate() {
			observability.DispatchAttempts.WithLabelValues("duplicate").Inc()
			observability.DuplicateSubmissions.WithLabelValues(string(derr.Code)).Inc()
			o.logger.Info("duplicate submission short-circuited",
				slog.String("code", string(derr.Code)),
				slog.String("existing_task_id", derr.ExistingTaskID))
			return nil, derr
		}
		observability.DispatchAttempts.WithLabelValues("internal_error").Inc()
		return nil, err
	}

	secret, err := domain.NewWebhookSecret()
	if err != nil {
		observability.DispatchAttempts.WithLabelValues("internal_error").Inc()
		return nil, domain.NewError(domain.ErrInternal, "generating webhook secret: %v", err)
	}

	result, err := o.dispatcher.Dispatch(ctx, Request{
		TaskID:           task.ID,
		Prompt:           task.Prompt,
		SystemPromptHash: task.SystemPromptHash,
		Repository:       task.Repository,
		BaseBranch:       task.BaseBranch,
		WorkerType:       task.WorkerType,
		WebhookURL:       fmt.Sprintf("%s/webhooks/tasks/%s", o.webhookBaseURL, task.ID),
		WebhookSecret:    secret,
		TraceID:          task.TraceID,
		LinearIssueID:    task.LinearIssueID,
	})
	if err != nil {
		return nil, o.recordDispatchFailure(ctx, task, err)
	}

	o.armCancellation(ctx, task, result)

	observability.DispatchAttempts.WithLabelValues("dispatched").Inc()
	observability.TasksDispatched.WithLabelValues(string(result.Location), string(task.WorkerType)).Inc()

	return &ProcessResult{
		CodeTaskID:     task.ID,
		ResourceURL:    result.ResourceURL,
		WorkerLocation: result.Location,
	}, nil
}

// recordDispatchFailure persists the failure onto the task record so
// operators can see what failed; the row is retained, never deleted. The
// caller always sees worker_unavailable.
func (o *Orchestrator) recordDispatchFailure(ctx context.Context, task *domain.CodeTask, dispatchErr error) error {
	observability.DispatchAttempts.WithLabelValues("worker_unavailable").Inc()

	code := string(domain.ErrWorkerUnavailable)
	var derr *domain.Error
	if errors.As(dispatchErr, &derr) {
		code = string(derr.Code)
	}

	status := domain.StatusFailed
	if _, err := o.store.Update(ctx, task.ID, taskstore.TaskPatch{
		Status: &status,
		Error:  &domain.TaskError{Code: code, Message: dispatchErr.Error()},
	}); err != nil {
		o.logger.Error("failed to record dispatch failure",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
	}

	o.spawn("mirror dispatch failure", func(ctx context.Context) error {
		o.mirrorStatus(ctx, mirror.Params{
			ActionID:     task.ActionID,
			TaskStatus:   domain.StatusFailed,
			ErrorMessage: dispatchErr.Error(),
			TraceID:      task.TraceID,
		})
		return nil
	})

	return &domain.Error{
		Code:    domain.ErrWorkerUnavailable,
		Message: fmt.Sprintf("could not dispatch task %s: %v", task.ID, dispatchErr),
	}
}

// armCancellation persists a short-lived cancel nonce and fires the
// best-effort started notification and status mirror. Failures here are
// logged and swallowed: they must not turn a successful dispatch into a
// caller-visible error.
func (o *Orchestrator) armCancellation(ctx context.Context, task *domain.CodeTask, result *Result) {
	var nonce string
	location := result.Location

	if n, err := domain.NewCancelNonce(); err != nil {
		o.logger.Warn("failed to generate cancel nonce",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
	} else {
		nonce = n
		expiry := time.Now().Add(domain.CancelNonceTTL)
		if _, err := o.store.Update(ctx, task.ID, taskstore.TaskPatch{
			WorkerLocation:       &location,
			CancelNonce:          &nonce,
			CancelNonceExpiresAt: &expiry,
		}); err != nil {
			o.logger.Warn("failed to persist cancel nonce",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()))
		}
	}

	o.spawn("task started notification", func(ctx context.Context) error {
		return o.notifier.Send(notify.Notification{
			Title:          "Code task started",
			Message:        "Working on: " + task.SanitizedPrompt,
			Type:           notify.NotifyInfo,
			TaskID:         task.ID,
			WorkerLocation: string(location),
			CancelNonce:    nonce,
		})
	})

	o.spawn("mirror dispatched status", func(ctx context.Context) error {
		o.mirrorStatus(ctx, mirror.Params{
			ActionID:    task.ActionID,
			TaskStatus:  domain.StatusDispatched,
			ResourceURL: result.ResourceURL,
			TraceID:     task.TraceID,
		})
		return nil
	})
}

func (o *Orchestrator) mirrorStatus(ctx context.Context, params mirror.Params) {
	if o.mirror == nil {
		return
	}
	o.mirror.MirrorStatus(ctx, params)
}

// spawn runs a best-effort side effect on its own goroutine with a bounded
// context. There is no handle: the only observable outcome of a failure is
// a warning log.
func (o *Orchestrator) spawn(name string, fn func(ctx context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			o.logger.Warn("best-effort side effect failed",
				slog.String("effect", name),
				slog.String("error", err.Error()))
		}
	}()
}

// Drain waits for in-flight side effects; used on shutdown and in tests
func (o *Orchestrator) Drain() {
	o.wg.Wait()
}

// sanitizePrompt normalizes a raw prompt before storage and dispatch.
// Collapses whitespace runs and trims the result.
func sanitizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// systemPromptHash fingerprints the system instruction version a task was
// dispatched under
func systemPromptHash(version string) string {
	sum := sha256.Sum256([]byte(version))
	return hex.EncodeToString(sum[:])
}
