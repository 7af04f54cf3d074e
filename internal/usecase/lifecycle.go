package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"claimflow/internal/domain"
)

// Lifecycle resolves agent definitions to deployed backend instances,
// creating them on first use and reusing them afterwards. The name→instance
// cache is the only shared mutable state in the core; access is guarded
// per definition name so concurrent Ensure calls for the same name during
// cold start never create two backend agents.
type Lifecycle struct {
	backend domain.AgentBackend
	logger  *slog.Logger

	mu        sync.Mutex
	nameLocks map[string]*sync.Mutex
	cache     map[string]*domain.AgentInstance
}

// NewLifecycle creates a lifecycle manager for one backend.
func NewLifecycle(backend domain.AgentBackend, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		backend:   backend,
		logger:    logger,
		nameLocks: make(map[string]*sync.Mutex),
		cache:     make(map[string]*domain.AgentInstance),
	}
}

// Ensure returns the instance for def, registering it on the backend if
// needed. The loser of a concurrent cold-start race blocks on the per-name
// lock and then adopts the winner's instance from the cache.
//
// ErrBackendUnavailable means "use the fallback path", not a fatal error;
// ErrAgentCreationFailed is fatal for the triggering request and retried on
// the next call.
func (l *Lifecycle) Ensure(ctx context.Context, def domain.AgentDefinition) (*domain.AgentInstance, error) {
	// Fast path: cache hit without touching the per-name lock.
	l.mu.Lock()
	if inst, ok := l.cache[def.Name]; ok {
		l.mu.Unlock()
		return inst, nil
	}
	nameLock, ok := l.nameLocks[def.Name]
	if !ok {
		nameLock = &sync.Mutex{}
		l.nameLocks[def.Name] = nameLock
	}
	l.mu.Unlock()

	nameLock.Lock()
	defer nameLock.Unlock()

	// Re-check under the name lock: a racing Ensure may have won.
	l.mu.Lock()
	if inst, ok := l.cache[def.Name]; ok {
		l.mu.Unlock()
		return inst, nil
	}
	l.mu.Unlock()

	// The backend has no get-by-name primitive; list and filter.
	refs, err := l.backend.ListAgents(ctx)
	if err != nil {
		return nil, domain.WrapOp("Lifecycle.Ensure", err)
	}
	for _, ref := range refs {
		if ref.Name == def.Name {
			inst := &domain.AgentInstance{
				BackendAgentID: ref.ID,
				DefinitionName: def.Name,
				CreatedAt:      time.Now(),
			}
			l.adopt(inst)
			l.logger.Info("agent adopted from backend", "name", def.Name, "agent_id", ref.ID)
			return inst, nil
		}
	}

	// Creation runs detached from the request context: a cancellation from
	// one caller must not leave a half-created agent behind for the others.
	id, err := l.backend.CreateAgent(context.WithoutCancel(ctx), def)
	if err != nil {
		return nil, domain.WrapOp("Lifecycle.Ensure", err)
	}
	inst := &domain.AgentInstance{
		BackendAgentID: id,
		DefinitionName: def.Name,
		CreatedAt:      time.Now(),
	}
	l.adopt(inst)
	return inst, nil
}

func (l *Lifecycle) adopt(inst *domain.AgentInstance) {
	l.mu.Lock()
	l.cache[inst.DefinitionName] = inst
	l.mu.Unlock()
}

// Resolved reports whether the named definition has a cached instance.
// Used by the backend selector's routing decision.
func (l *Lifecycle) Resolved(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[name]
	return ok
}

// Forget drops the cached instance for a name. Test teardown only.
func (l *Lifecycle) Forget(name string) {
	l.mu.Lock()
	delete(l.cache, name)
	l.mu.Unlock()
}

// Warmup ensures every given definition, typically at process start.
// A backend outage demotes to fallback instead of failing startup; only
// creation rejections are returned.
func (l *Lifecycle) Warmup(ctx context.Context, defs []domain.AgentDefinition) error {
	for _, def := range defs {
		if _, err := l.Ensure(ctx, def); err != nil {
			if domain.IsInfrastructure(err) {
				l.logger.Warn("warmup skipped, backend unavailable", "agent", def.Name)
				return nil
			}
			return err
		}
	}
	return nil
}
