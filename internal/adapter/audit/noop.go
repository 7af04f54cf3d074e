package audit

import (
	"context"

	"claimflow/internal/domain"
)

// NoopStore discards all audit writes. Used when auditing is disabled.
type NoopStore struct{}

// NewNoopStore creates a no-op audit store.
func NewNoopStore() *NoopStore { return &NoopStore{} }

func (NoopStore) SaveRun(context.Context, *domain.RunExecution) error      { return nil }
func (NoopStore) SaveResult(context.Context, *domain.WorkflowResult) error { return nil }
func (NoopStore) ListRuns(context.Context, string, int) ([]domain.RunExecution, error) {
	return nil, nil
}
func (NoopStore) Close() error { return nil }

var _ domain.AuditStore = (*NoopStore)(nil)
