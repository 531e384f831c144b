package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// TaskError records why a task's dispatch or execution failed
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeTask is the persistent record of one dispatched coding request.
// One row exists per dispatch attempt that passed deduplication.
type CodeTask struct {
	ID string

	// Dedup keys. ActionID and ApprovalEventID are unique when present;
	// DedupKey is the fallback layer for retried client calls.
	DedupKey        string
	ActionID        string
	ApprovalEventID string

	UserID           string
	Prompt           string
	SanitizedPrompt  string
	SystemPromptHash string
	WorkerType       WorkerType
	WorkerLocation   WorkerLocation
	Repository       string
	BaseBranch       string
	TraceID          string

	LinearIssueID    string
	LinearIssueTitle string
	LinearFallback   bool

	Status TaskStatus
	Error  *TaskError

	CancelNonce          string
	CancelNonceExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CancelNonceValid reports whether the task's cancel nonce matches and is
// unexpired at the given instant. Expired nonces are inert, not deleted.
func (t *CodeTask) CancelNonceValid(nonce string, now time.Time) bool {
	if t.CancelNonce == "" || t.CancelNonceExpiresAt == nil {
		return false
	}
	return t.CancelNonce == nonce && now.Before(*t.CancelNonceExpiresAt)
}

// DedupKey derives the fallback deduplication key from the requester, the
// normalized prompt, and a version tag of the system instructions. Two
// submissions with the same key represent the same logical request.
func DedupKey(userID, sanitizedPrompt, systemPromptVersion string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(strings.ToLower(sanitizedPrompt))))
	h.Write([]byte{0})
	h.Write([]byte(systemPromptVersion))
	return hex.EncodeToString(h.Sum(nil))
}
