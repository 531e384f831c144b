package domain

import "fmt"

// ErrorCode classifies caller-facing failures of the dispatch subsystem
type ErrorCode string

const (
	ErrDuplicateApproval ErrorCode = "duplicate_approval"
	ErrDuplicateAction   ErrorCode = "duplicate_action"
	ErrDuplicateTask     ErrorCode = "duplicate_task"
	ErrWorkerUnavailable ErrorCode = "worker_unavailable"
	ErrHealthCheckFailed ErrorCode = "health_check_failed"
	ErrNetwork           ErrorCode = "network_error"
	ErrNotFound          ErrorCode = "not_found"
	ErrInternal          ErrorCode = "internal_error"
)

// Error is the typed error surfaced to callers. For duplicate-submission
// errors ExistingTaskID carries the id of the task that won the race so the
// caller can redirect instead of retrying.
type Error struct {
	Code           ErrorCode
	Message        string
	ExistingTaskID string
}

func (e *Error) Error() string {
	if e.ExistingTaskID != "" {
		return fmt.Sprintf("%s: %s (existing task %s)", e.Code, e.Message, e.ExistingTaskID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an Error with a formatted message
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsDuplicate returns true for any of the duplicate-submission codes
func (e *Error) IsDuplicate() bool {
	switch e.Code {
	case ErrDuplicateApproval, ErrDuplicateAction, ErrDuplicateTask:
		return true
	}
	return false
}
