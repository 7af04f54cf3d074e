package usecase

import (
	"context"
	"log/slog"
	"time"

	"claimflow/internal/domain"
	"claimflow/internal/infra/config"
)

// RunResult is the outcome of a single-agent invocation, including the full
// conversation trace for review.
type RunResult struct {
	Success      bool                 `json:"success"`
	FinalMessage string               `json:"final_message"`
	Trace        []domain.Message     `json:"conversation_trace"`
	ExecutionID  string               `json:"execution_id"`
	ThreadID     string               `json:"thread_id"`
	Path         domain.ExecutionPath `json:"path"`
}

// Service is the exposed surface of the claim system: single-agent runs,
// conversation continuation, and the supervised multi-agent workflow. All
// operations share one lifecycle, thread manager and path selector, so a
// backend outage observed by any of them degrades the others immediately.
type Service struct {
	cfg        *config.Config
	lifecycle  *Lifecycle
	supervisor *Supervisor
	selector   *Selector
	threads    *Threads
	logger     *slog.Logger
}

// NewService assembles the service from its shared components.
func NewService(cfg *config.Config, lifecycle *Lifecycle, supervisor *Supervisor, selector *Selector, threads *Threads, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		lifecycle:  lifecycle,
		supervisor: supervisor,
		selector:   selector,
		threads:    threads,
		logger:     logger,
	}
}

// Start warms up the configured agents so the first claim does not pay the
// creation latency, and begins background backend health monitoring. An
// unreachable backend is not fatal; the system starts degraded.
func (s *Service) Start(ctx context.Context) error {
	if err := s.lifecycle.Warmup(ctx, s.cfg.Agents); err != nil {
		return err
	}
	go s.monitor(ctx)
	return nil
}

// monitor re-probes the backend periodically so recovery is noticed even
// when no claims are flowing.
func (s *Service) monitor(ctx context.Context) {
	interval := s.cfg.Selector.ProbeTTL
	if interval <= 0 {
		interval = defaultProbeTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := s.selector.Healthy(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.selector.Healthy(ctx)
			if now != healthy {
				if now {
					s.logger.Info("backend recovered, managed path restored")
				} else {
					s.logger.Warn("backend unhealthy, degrading to fallback path")
				}
				healthy = now
			}
		}
	}
}

// ProcessClaim runs the supervised multi-agent workflow for a claim.
func (s *Service) ProcessClaim(ctx context.Context, claim *domain.Claim) (*domain.WorkflowResult, error) {
	return s.supervisor.Process(ctx, claim)
}

// RunAgent invokes one agent by its logical name over a fresh thread. The
// query defaults to the specialist's standard prompt for the claim; a custom
// query overrides it.
func (s *Service) RunAgent(ctx context.Context, agentName string, claim *domain.Claim, customQuery string) (*RunResult, error) {
	def, ok := s.agentByName(agentName)
	if !ok {
		return nil, domain.NewDomainError("Service.RunAgent", domain.ErrAgentNotFound, agentName)
	}

	query := customQuery
	if query == "" {
		if claim == nil {
			return nil, domain.NewDomainError("Service.RunAgent", domain.ErrInvalidInput, "claim or custom query required")
		}
		query = stepQuery(def.Specialist, claim)
	}

	threadID := s.threads.Open()
	if err := s.threads.BindAgent(threadID, def.Name); err != nil {
		return nil, err
	}
	return s.run(ctx, def, threadID, query)
}

// ContinueConversation appends a message to an existing thread and resumes
// the agent bound to it. The returned trace is a strict superset of the
// previous call's trace; history is never rewritten.
func (s *Service) ContinueConversation(ctx context.Context, threadID, message string) (*RunResult, error) {
	agentName, err := s.threads.AgentFor(threadID)
	if err != nil {
		return nil, err
	}
	if agentName == "" {
		return nil, domain.NewDomainError("Service.ContinueConversation", domain.ErrInvalidInput, "thread has no bound agent")
	}
	def, ok := s.agentByName(agentName)
	if !ok {
		return nil, domain.NewDomainError("Service.ContinueConversation", domain.ErrAgentNotFound, agentName)
	}
	return s.run(ctx, def, threadID, message)
}

// run dispatches one agent turn to the selected path and packages the
// outcome with the thread's full trace.
func (s *Service) run(ctx context.Context, def domain.AgentDefinition, threadID, query string) (*RunResult, error) {
	path := s.selector.Choose(ctx)
	exec, ranOn, err := s.supervisor.execute(ctx, path, def, threadID, query)
	if err != nil {
		s.selector.ReportFailure(err)
		if exec == nil {
			return nil, err
		}
	}

	trace, histErr := s.threads.History(threadID)
	if histErr != nil {
		return nil, histErr
	}
	return &RunResult{
		Success:      err == nil && exec.Status == domain.RunCompleted,
		FinalMessage: exec.FinalMessage,
		Trace:        trace,
		ExecutionID:  exec.ID,
		ThreadID:     threadID,
		Path:         ranOn,
	}, err
}

func (s *Service) agentByName(name string) (domain.AgentDefinition, bool) {
	for _, def := range s.cfg.Agents {
		if def.Name == name {
			return def, true
		}
	}
	return domain.AgentDefinition{}, false
}
