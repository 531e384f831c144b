// Package mirror republishes task status to the upstream action-tracking
// system. Mirroring is observability, not a correctness requirement: every
// call resolves, and upstream failures are logged and swallowed.
package mirror

import (
	"context"
	"log/slog"

	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/observability"
)

// Detail is the optional payload attached to a mirrored status. PRURL and
// Error are mutually exclusive in practice.
type Detail struct {
	PRURL string `json:"prUrl,omitempty"`
	Error string `json:"error,omitempty"`
}

// ActionClient updates the status of an upstream action record
type ActionClient interface {
	UpdateActionStatus(ctx context.Context, actionID string, status domain.TaskStatus, detail *Detail, traceID string) error
}

// Params describes one status mirror request
type Params struct {
	ActionID     string
	TaskStatus   domain.TaskStatus
	ResourceURL  string
	ErrorMessage string
	TraceID      string
}

// Mirror forwards task status changes upstream, best effort
type Mirror struct {
	client ActionClient
	logger *slog.Logger
}

// New creates a status mirror over the given client
func New(client ActionClient, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{client: client, logger: logger}
}

// MirrorStatus republishes a task status upstream. Tasks without an action
// id are skipped; task statuses map 1:1 onto upstream resource statuses.
// Never returns an error.
func (m *Mirror) MirrorStatus(ctx context.Context, params Params) {
	if params.ActionID == "" {
		m.logger.Debug("skipping status mirror, task has no action id",
			slog.String("status", string(params.TaskStatus)))
		return
	}

	var detail *Detail
	switch {
	case params.ResourceURL != "":
		detail = &Detail{PRURL: params.ResourceURL}
	case params.ErrorMessage != "":
		detail = &Detail{Error: params.ErrorMessage}
	}

	err := m.client.UpdateActionStatus(ctx, params.ActionID, params.TaskStatus, detail, params.TraceID)
	if err != nil {
		observability.MirrorFailures.Inc()
		m.logger.Warn("status mirror failed",
			slog.String("action_id", params.ActionID),
			slog.String("status", string(params.TaskStatus)),
			slog.String("error", err.Error()))
	}
}
