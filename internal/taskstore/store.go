package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/intexuraos/code-dispatch/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed task persistence. It owns the deduplication
// invariants: at most one task per action_id, per approval_event_id, and per
// dedup_key, enforced by unique indexes so concurrent creates race safely.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer at a time, and pooled connections would each
	// get a private database for :memory: paths. One connection serves both.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTaskParams carries everything needed to persist a new task
type CreateTaskParams struct {
	DedupKey         string
	ActionID         string
	ApprovalEventID  string
	UserID           string
	Prompt           string
	SanitizedPrompt  string
	SystemPromptHash string
	WorkerType       domain.WorkerType
	Repository       string
	BaseBranch       string
	TraceID          string
	LinearIssueID    string
	LinearIssueTitle string
	LinearFallback   bool
}

// Create inserts a new task after passing the three deduplication checks.
// The checks and the insert run in one immediate transaction; the unique
// indexes backstop races from other connections. Duplicate errors carry the
// pre-existing task's id. Precedence: approval event, then action, then the
// dedup-key fallback.
func (s *Store) Create(ctx context.Context, params CreateTaskParams) (*domain.CodeTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, internalErr("begin create tx", err)
	}
	defer tx.Rollback()

	if params.ApprovalEventID != "" {
		if existing, err := findIDBy(ctx, tx, "approval_event_id", params.ApprovalEventID); err != nil {
			return nil, err
		} else if existing != "" {
			return nil, &domain.Error{
				Code:           domain.ErrDuplicateApproval,
				Message:        fmt.Sprintf("approval event %s already has a task", params.ApprovalEventID),
				ExistingTaskID: existing,
			}
		}
	}
	if params.ActionID != "" {
		if existing, err := findIDBy(ctx, tx, "action_id", params.ActionID); err != nil {
			return nil, err
		} else if existing != "" {
			return nil, &domain.Error{
				Code:           domain.ErrDuplicateAction,
				Message:        fmt.Sprintf("action %s already has a task", params.ActionID),
				ExistingTaskID: existing,
			}
		}
	}
	if existing, err := findIDBy(ctx, tx, "dedup_key", params.DedupKey); err != nil {
		return nil, err
	} else if existing != "" {
		return nil, &domain.Error{
			Code:           domain.ErrDuplicateTask,
			Message:        "an identical request was already submitted",
			ExistingTaskID: existing,
		}
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	task := &domain.CodeTask{
		ID:               uuid.NewString(),
		DedupKey:         params.DedupKey,
		ActionID:         params.ActionID,
		ApprovalEventID:  params.ApprovalEventID,
		UserID:           params.UserID,
		Prompt:           params.Prompt,
		SanitizedPrompt:  params.SanitizedPrompt,
		SystemPromptHash: params.SystemPromptHash,
		WorkerType:       params.WorkerType,
		Repository:       params.Repository,
		BaseBranch:       params.BaseBranch,
		TraceID:          params.TraceID,
		LinearIssueID:    params.LinearIssueID,
		LinearIssueTitle: params.LinearIssueTitle,
		LinearFallback:   params.LinearFallback,
		Status:           domain.StatusDispatched,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO code_tasks (
			id, dedup_key, action_id, approval_event_id,
			user_id, prompt, sanitized_prompt, system_prompt_hash,
			worker_type, repository, base_branch, trace_id,
			linear_issue_id, linear_issue_title, linear_fallback,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.DedupKey, nullable(task.ActionID), nullable(task.ApprovalEventID),
		task.UserID, task.Prompt, task.SanitizedPrompt, task.SystemPromptHash,
		string(task.WorkerType), nullable(task.Repository), nullable(task.BaseBranch), nullable(task.TraceID),
		nullable(task.LinearIssueID), nullable(task.LinearIssueTitle), task.LinearFallback,
		string(task.Status), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		// A concurrent connection may win the race between our checks and
		// the insert; map the constraint back to the duplicate taxonomy.
		// Roll back first: the lookup for the existing task's id needs the
		// pool's only connection, which the open transaction is holding.
		tx.Rollback()
		if dupErr := s.mapConstraintError(ctx, err, params); dupErr != nil {
			return nil, dupErr
		}
		return nil, internalErr("insert task", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, internalErr("commit create tx", err)
	}

	return task, nil
}

// constraintColumns maps unique-constraint columns to duplicate error codes.
// Explicit table rather than string-mangling the storage error into a code.
var constraintColumns = []struct {
	column string
	code   domain.ErrorCode
}{
	{"approval_event_id", domain.ErrDuplicateApproval},
	{"action_id", domain.ErrDuplicateAction},
	{"dedup_key", domain.ErrDuplicateTask},
}

func (s *Store) mapConstraintError(ctx context.Context, err error, params CreateTaskParams) *domain.Error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return nil
	}

	for _, cc := range constraintColumns {
		if !strings.Contains(msg, "code_tasks."+cc.column) {
			continue
		}
		value := map[string]string{
			"approval_event_id": params.ApprovalEventID,
			"action_id":         params.ActionID,
			"dedup_key":         params.DedupKey,
		}[cc.column]

		existing, lookupErr := findIDBy(ctx, s.db, cc.column, value)
		if lookupErr != nil {
			existing = ""
		}
		return &domain.Error{
			Code:           cc.code,
			Message:        fmt.Sprintf("duplicate %s", cc.column),
			ExistingTaskID: existing,
		}
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func findIDBy(ctx context.Context, q querier, column, value string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM code_tasks WHERE `+column+` = ?`, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", internalErr("lookup by "+column, err)
	}
	return id, nil
}

// TaskPatch is a partial update of a task record. Nil fields are untouched;
// updated_at is always bumped.
type TaskPatch struct {
	Status               *domain.TaskStatus
	Error                *domain.TaskError
	WorkerLocation       *domain.WorkerLocation
	CancelNonce          *string
	CancelNonceExpiresAt *time.Time
}

// Update applies a partial patch to a task and returns the updated record.
// An all-nil patch is caller misuse, not a timestamp bump.
func (s *Store) Update(ctx context.Context, id string, patch TaskPatch) (*domain.CodeTask, error) {
	if patch == (TaskPatch{}) {
		return nil, domain.NewError(domain.ErrInternal, "empty patch for task %s", id)
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC().UnixMilli()}

	if patch.Status != nil {
		if !domain.ValidStatus(*patch.Status) {
			return nil, domain.NewError(domain.ErrInternal, "invalid status %q", *patch.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Error != nil {
		sets = append(sets, "error_code = ?", "error_message = ?")
		args = append(args, patch.Error.Code, patch.Error.Message)
	}
	if patch.WorkerLocation != nil {
		sets = append(sets, "worker_location = ?")
		args = append(args, string(*patch.WorkerLocation))
	}
	if patch.CancelNonce != nil {
		sets = append(sets, "cancel_nonce = ?")
		args = append(args, *patch.CancelNonce)
	}
	if patch.CancelNonceExpiresAt != nil {
		sets = append(sets, "cancel_nonce_expires_at = ?")
		args = append(args, patch.CancelNonceExpiresAt.UTC().UnixMilli())
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE code_tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, internalErr("update task", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, internalErr("update task", err)
	}
	if affected == 0 {
		return nil, domain.NewError(domain.ErrNotFound, "task %s not found", id)
	}

	return s.Get(ctx, id)
}

// Get retrieves a task by id
func (s *Store) Get(ctx context.Context, id string) (*domain.CodeTask, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.ErrNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, internalErr("get task", err)
	}
	return task, nil
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	UserID string
	Status domain.TaskStatus
	Limit  int
}

// List returns tasks matching the given options, newest first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*domain.CodeTask, error) {
	query := selectColumns + ` WHERE 1=1`
	var args []interface{}

	if opts.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr("list tasks", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// FindZombieTasks returns active tasks whose last update strictly predates
// staleBefore. Read-only: reclamation is the caller's job, which keeps the
// reclaimer idempotent and retry-safe.
func (s *Store) FindZombieTasks(ctx context.Context, staleBefore time.Time) ([]*domain.CodeTask, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status IN (?, ?) AND updated_at < ? ORDER BY updated_at`,
		string(domain.StatusDispatched), string(domain.StatusRunning), staleBefore.UTC().UnixMilli())
	if err != nil {
		return nil, internalErr("find zombie tasks", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

const selectColumns = `
	SELECT id, dedup_key, action_id, approval_event_id,
	       user_id, prompt, sanitized_prompt, system_prompt_hash,
	       worker_type, worker_location, repository, base_branch, trace_id,
	       linear_issue_id, linear_issue_title, linear_fallback,
	       status, error_code, error_message,
	       cancel_nonce, cancel_nonce_expires_at, created_at, updated_at
	FROM code_tasks`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scannable) (*domain.CodeTask, error) {
	var task domain.CodeTask
	var actionID, approvalEventID, workerLocation sql.NullString
	var repository, baseBranch, traceID sql.NullString
	var linearIssueID, linearIssueTitle sql.NullString
	var errorCode, errorMessage, cancelNonce sql.NullString
	var cancelExpires sql.NullInt64
	var workerType, status string
	var createdAt, updatedAt int64

	err := row.Scan(
		&task.ID, &task.DedupKey, &actionID, &approvalEventID,
		&task.UserID, &task.Prompt, &task.SanitizedPrompt, &task.SystemPromptHash,
		&workerType, &workerLocation, &repository, &baseBranch, &traceID,
		&linearIssueID, &linearIssueTitle, &task.LinearFallback,
		&status, &errorCode, &errorMessage,
		&cancelNonce, &cancelExpires, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ActionID = actionID.String
	task.ApprovalEventID = approvalEventID.String
	task.WorkerType = domain.WorkerType(workerType)
	task.WorkerLocation = domain.WorkerLocation(workerLocation.String)
	task.Repository = repository.String
	task.BaseBranch = baseBranch.String
	task.TraceID = traceID.String
	task.LinearIssueID = linearIssueID.String
	task.LinearIssueTitle = linearIssueTitle.String
	task.Status = domain.TaskStatus(status)
	task.CancelNonce = cancelNonce.String
	task.CreatedAt = time.UnixMilli(createdAt).UTC()
	task.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if errorCode.Valid || errorMessage.Valid {
		task.Error = &domain.TaskError{Code: errorCode.String, Message: errorMessage.String}
	}
	if cancelExpires.Valid {
		t := time.UnixMilli(cancelExpires.Int64).UTC()
		task.CancelNonceExpiresAt = &t
	}

	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*domain.CodeTask, error) {
	var tasks []*domain.CodeTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, internalErr("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("iterate tasks", err)
	}
	return tasks, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func internalErr(op string, err error) *domain.Error {
	return domain.NewError(domain.ErrInternal, "%s: %v", op, err)
}
