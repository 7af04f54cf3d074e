package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"claimflow/internal/domain"
	"claimflow/internal/infra/config"
)

// Selector defaults.
const (
	defaultProbeTTL    = 15 * time.Second
	defaultRecoveryTTL = 60 * time.Second
)

// Selector decides, per workflow, whether the managed backend path is usable
// or the run must degrade to the local fallback path. One confirmed backend
// failure opens the circuit; while open every choice is fallback without
// touching the backend. After RecoveryTTL a single probe is let through and
// a success closes the circuit again.
type Selector struct {
	backend  domain.AgentBackend
	breaker  *gobreaker.CircuitBreaker[struct{}]
	probeTTL time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	probedAt time.Time
	healthy  bool
	now      func() time.Time
}

// NewSelector creates a backend path selector.
func NewSelector(backend domain.AgentBackend, cfg config.SelectorConfig, logger *slog.Logger) *Selector {
	probeTTL := cfg.ProbeTTL
	if probeTTL <= 0 {
		probeTTL = defaultProbeTTL
	}
	recoveryTTL := cfg.RecoveryTTL
	if recoveryTTL <= 0 {
		recoveryTTL = defaultRecoveryTTL
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     recoveryTTL,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// The managed path is expensive to fail on mid-workflow, so a
			// single confirmed failure is enough to degrade.
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Selector{
		backend:  backend,
		breaker:  cb,
		probeTTL: probeTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Choose returns the execution path for a new workflow. The decision is made
// once per workflow; all steps of that workflow follow it.
func (s *Selector) Choose(ctx context.Context) domain.ExecutionPath {
	if s.Healthy(ctx) {
		return domain.PathManaged
	}
	return domain.PathFallback
}

// Healthy reports whether the managed backend is currently considered
// reachable. Probe results are cached for probeTTL so back-to-back workflows
// do not hammer the health endpoint.
func (s *Selector) Healthy(ctx context.Context) bool {
	if s.breaker.State() == gobreaker.StateOpen {
		return false
	}

	s.mu.Lock()
	if !s.probedAt.IsZero() && s.now().Sub(s.probedAt) < s.probeTTL {
		cached := s.healthy
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.backend.Ping(ctx)
	})
	ok := err == nil
	if !ok {
		s.logger.Warn("backend probe failed", "error", err)
	}

	s.mu.Lock()
	s.probedAt = s.now()
	s.healthy = ok
	s.mu.Unlock()
	return ok
}

// ReportFailure feeds a mid-run infrastructure failure into the circuit so
// the next workflow degrades immediately instead of rediscovering the outage.
// Non-infrastructure errors (tool failures, model refusals) are ignored.
func (s *Selector) ReportFailure(err error) {
	if err == nil || !domain.IsInfrastructure(err) {
		return
	}
	_, _ = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, err
	})
	s.mu.Lock()
	s.probedAt = time.Time{}
	s.healthy = false
	s.mu.Unlock()
}

// State exposes the circuit state for health reporting.
func (s *Selector) State() gobreaker.State { return s.breaker.State() }
