package taskstore

// Timestamps are stored as unix milliseconds (UTC) so staleness comparisons
// stay correct regardless of the wall-clock timezone the row was written in.
const schema = `
CREATE TABLE IF NOT EXISTS code_tasks (
    id TEXT PRIMARY KEY,
    dedup_key TEXT NOT NULL,
    action_id TEXT,
    approval_event_id TEXT,
    user_id TEXT NOT NULL,
    prompt TEXT NOT NULL,
    sanitized_prompt TEXT NOT NULL,
    system_prompt_hash TEXT NOT NULL,
    worker_type TEXT NOT NULL DEFAULT 'default',
    worker_location TEXT,
    repository TEXT,
    base_branch TEXT,
    trace_id TEXT,
    linear_issue_id TEXT,
    linear_issue_title TEXT,
    linear_fallback BOOLEAN DEFAULT FALSE,
    status TEXT NOT NULL DEFAULT 'dispatched',
    error_code TEXT,
    error_message TEXT,
    cancel_nonce TEXT,
    cancel_nonce_expires_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_code_tasks_dedup_key ON code_tasks(dedup_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_code_tasks_action_id ON code_tasks(action_id) WHERE action_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_code_tasks_approval_event_id ON code_tasks(approval_event_id) WHERE approval_event_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_code_tasks_status ON code_tasks(status);
CREATE INDEX IF NOT EXISTS idx_code_tasks_status_updated ON code_tasks(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_code_tasks_user ON code_tasks(user_id);
`
