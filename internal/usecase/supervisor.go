package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"claimflow/internal/domain"
	"claimflow/internal/infra/config"
	"claimflow/internal/infra/tracer"
)

// Supervisor orchestrates the fixed claim workflow: the assessor, policy
// checker, risk analyst and optional data analyst run in parallel on
// isolated threads, then the communication agent synthesizes their outputs
// into a recommendation. The path (managed or fallback) is chosen once per
// claim and the whole workflow follows it.
type Supervisor struct {
	cfg       *config.Config
	lifecycle *Lifecycle
	runner    *Runner
	fallback  *Fallback
	selector  *Selector
	threads   *Threads
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewSupervisor creates the workflow orchestrator.
func NewSupervisor(cfg *config.Config, lifecycle *Lifecycle, runner *Runner, fb *Fallback, selector *Selector, threads *Threads, audit domain.AuditStore, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		lifecycle: lifecycle,
		runner:    runner,
		fallback:  fb,
		selector:  selector,
		threads:   threads,
		audit:     audit,
		logger:    logger,
	}
}

// Process runs the full multi-agent workflow for one claim. Step failures
// are isolated: the workflow aggregates whatever succeeded and only reports
// overall failure when the communication step cannot produce a
// recommendation.
func (s *Supervisor) Process(ctx context.Context, claim *domain.Claim) (*domain.WorkflowResult, error) {
	ctx, span := tracer.StartSpan(ctx, "supervisor.process",
		trace.WithAttributes(tracer.StringAttr("claim.id", claim.ID)),
	)
	defer span.End()

	if claim.ID == "" {
		err := domain.NewDomainError("Supervisor.Process", domain.ErrInvalidInput, "claim id required")
		tracer.RecordError(span, err)
		return nil, err
	}

	path := s.selector.Choose(ctx)
	result := &domain.WorkflowResult{
		ResultID:  newRunID(time.Now()),
		ClaimID:   claim.ID,
		Path:      path,
		Degraded:  path == domain.PathFallback,
		StartedAt: time.Now(),
	}
	s.logger.Info("processing claim", "claim_id", claim.ID, "path", string(path))

	specialists := []domain.Specialist{
		domain.SpecialistAssessor,
		domain.SpecialistPolicyChecker,
		domain.SpecialistRiskAnalyst,
		domain.SpecialistDataAnalyst,
	}

	steps := make([]domain.StepResult, len(specialists))
	var wg sync.WaitGroup
	for i, sp := range specialists {
		if sp == domain.SpecialistDataAnalyst && !s.cfg.Tools.DataAnalystEnabled {
			steps[i] = domain.StepResult{Specialist: sp, Status: domain.StepSkipped}
			continue
		}
		wg.Add(1)
		go func(idx int, specialist domain.Specialist) {
			defer wg.Done()
			steps[idx] = s.runStep(ctx, path, specialist, stepQuery(specialist, claim))
		}(i, sp)
	}
	wg.Wait()
	result.Steps = steps

	// Communication runs last over the specialists' findings. If a path
	// degrades mid-workflow this step still runs; it just sees fewer inputs.
	comm := s.runStep(ctx, path, domain.SpecialistCommunication, synthesisQuery(claim, steps))
	result.Steps = append(result.Steps, comm)
	result.Recommendation = comm.Output
	result.Success = comm.Status == domain.StepCompleted
	result.CompletedAt = time.Now()

	// A managed workflow is still degraded when any step had to run on the
	// fallback engine.
	for _, step := range result.Steps {
		if step.Path == domain.PathFallback {
			result.Degraded = true
			break
		}
	}

	if err := s.audit.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		s.logger.Warn("audit write failed", "claim_id", claim.ID, "error", err)
	}

	if failed := result.FailedSteps(); len(failed) > 0 {
		s.logger.Warn("claim processed with failed steps",
			"claim_id", claim.ID, "failed", failed, "success", result.Success)
	}
	tracer.SetOK(span)
	return result, nil
}

// runStep executes one specialist on a fresh thread and captures its outcome
// without letting an error escape to the workflow.
func (s *Supervisor) runStep(ctx context.Context, path domain.ExecutionPath, specialist domain.Specialist, query string) domain.StepResult {
	start := time.Now()
	step := domain.StepResult{Specialist: specialist}

	def, ok := s.cfg.AgentFor(specialist)
	if !ok {
		step.Status = domain.StepSkipped
		step.Error = fmt.Sprintf("no agent configured for %s", specialist)
		return step
	}

	threadID := s.threads.Open()
	step.ThreadID = threadID

	exec, ranOn, err := s.execute(ctx, path, def, threadID, query)
	step.Path = ranOn
	if exec != nil {
		step.RunID = exec.ID
		step.Output = exec.FinalMessage
	}
	step.Duration = time.Since(start)

	if err != nil {
		s.selector.ReportFailure(err)
		step.Status = domain.StepFailed
		step.Error = err.Error()
		s.logger.Warn("specialist step failed",
			"specialist", string(specialist), "thread_id", threadID, "error", err)
		return step
	}
	step.Status = domain.StepCompleted
	return step
}

// execute dispatches a step to the chosen path, degrading a managed step to
// the fallback engine when the backend fails before the run can start. The
// returned path is the one that actually ran, which may differ from the
// chosen one.
func (s *Supervisor) execute(ctx context.Context, path domain.ExecutionPath, def domain.AgentDefinition, threadID, query string) (*domain.RunExecution, domain.ExecutionPath, error) {
	if path == domain.PathManaged {
		inst, err := s.lifecycle.Ensure(ctx, def)
		if err == nil {
			exec, runErr := s.runner.Drive(ctx, inst, threadID, query)
			return exec, domain.PathManaged, runErr
		}
		if !domain.IsInfrastructure(err) {
			return nil, domain.PathManaged, err
		}
		s.selector.ReportFailure(err)
		s.logger.Warn("managed step degraded to fallback",
			"agent", def.Name, "error", err)
	}
	exec, err := s.fallback.Drive(ctx, &def, threadID, query)
	return exec, domain.PathFallback, err
}

// stepQuery builds the specialist-specific prompt for a claim.
func stepQuery(specialist domain.Specialist, claim *domain.Claim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim %s (%s)", claim.ID, claim.Type)
	if claim.PolicyNumber != "" {
		fmt.Fprintf(&b, ", policy %s", claim.PolicyNumber)
	}
	if claim.ClaimantID != "" {
		fmt.Fprintf(&b, ", claimant %s", claim.ClaimantID)
	}
	if claim.VehicleVIN != "" {
		fmt.Fprintf(&b, ", VIN %s", claim.VehicleVIN)
	}
	if !claim.IncidentDate.IsZero() {
		fmt.Fprintf(&b, ", incident on %s", claim.IncidentDate.Format("2006-01-02"))
	}
	if claim.EstimatedDamage > 0 {
		fmt.Fprintf(&b, ", estimated damage %.2f", claim.EstimatedDamage)
	}
	b.WriteString(".")
	if claim.Description != "" {
		fmt.Fprintf(&b, " Incident description: %s.", claim.Description)
	}
	if len(claim.ImageRefs) > 0 {
		fmt.Fprintf(&b, " Damage images: %s.", strings.Join(claim.ImageRefs, ", "))
	}

	switch specialist {
	case domain.SpecialistAssessor:
		b.WriteString(" Assess the damage and produce a repair cost estimate.")
	case domain.SpecialistPolicyChecker:
		b.WriteString(" Verify coverage under the policy terms and list any exclusions that apply.")
	case domain.SpecialistRiskAnalyst:
		b.WriteString(" Evaluate fraud indicators and claimant history for this claim.")
	case domain.SpecialistDataAnalyst:
		b.WriteString(" Compare this claim against historical claim patterns and flag anomalies.")
	}
	return b.String()
}

// synthesisQuery builds the communication agent's prompt from the completed
// specialist findings.
func synthesisQuery(claim *domain.Claim, steps []domain.StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize a settlement recommendation for claim %s", claim.ID)
	if claim.EstimatedDamage > 0 {
		fmt.Fprintf(&b, " with estimated damage %.2f", claim.EstimatedDamage)
	}
	b.WriteString(". Specialist findings:\n")
	for _, step := range steps {
		switch step.Status {
		case domain.StepCompleted:
			fmt.Fprintf(&b, "- %s: %s\n", step.Specialist, step.Output)
		case domain.StepFailed:
			fmt.Fprintf(&b, "- %s: unavailable (%s)\n", step.Specialist, step.Error)
		}
	}
	b.WriteString("Reference the estimated damage amount in the recommendation and note any findings that were unavailable.")
	return b.String()
}
