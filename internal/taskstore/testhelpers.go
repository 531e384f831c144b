package taskstore

import (
	"time"

	"github.com/intexuraos/code-dispatch/internal/domain"
)

// ForceForTest rewrites a task's status and updated_at directly, bypassing
// the automatic timestamp bump. Exists so tests elsewhere can control
// staleness; never call it from production code.
func ForceForTest(s *Store, id string, status domain.TaskStatus, updatedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE code_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt.UTC().UnixMilli(), id)
	return err
}
