package domain

import "context"

// AuditStore persists run executions and workflow results for post-hoc
// explainability. Writes are best-effort from the caller's perspective;
// a failing store must never fail claim processing.
type AuditStore interface {
	SaveRun(ctx context.Context, run *RunExecution) error
	SaveResult(ctx context.Context, result *WorkflowResult) error
	ListRuns(ctx context.Context, threadID string, limit int) ([]RunExecution, error)
	Close() error
}
