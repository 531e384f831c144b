package domain

// TaskStatus represents the lifecycle state of a code task
type TaskStatus string

const (
	StatusDispatched  TaskStatus = "dispatched"
	StatusRunning     TaskStatus = "running"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
	StatusCancelled   TaskStatus = "cancelled"
	StatusInterrupted TaskStatus = "interrupted"
)

// IsTerminal returns true if no further transitions are expected
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusInterrupted:
		return true
	}
	return false
}

// IsActive returns true while the task is still in flight and therefore
// eligible for zombie reclamation
func (s TaskStatus) IsActive() bool {
	return s == StatusDispatched || s == StatusRunning
}

// ValidStatus reports whether s is one of the known lifecycle states
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusDispatched, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusInterrupted:
		return true
	}
	return false
}

// WorkerType selects the execution profile a task runs under
type WorkerType string

const (
	WorkerTypeDefault WorkerType = "default"
	WorkerTypeHeavy   WorkerType = "heavy"
)

// WorkerLocation identifies a remote execution backend
type WorkerLocation string
