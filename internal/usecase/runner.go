package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"claimflow/internal/domain"
	"claimflow/internal/infra/tracer"
)

// RunnerConfig bounds the tool-calling loop.
type RunnerConfig struct {
	MaxIterations int           // tool-call rounds before giving up, default 10
	PollTimeout   time.Duration // per-poll bound, default 30s
	PollInterval  time.Duration // delay between polls, default 500ms
}

func (c *RunnerConfig) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// runPhase makes the executor's state machine explicit so each transition
// and its failure mode is independently testable.
type runPhase int

const (
	phaseSubmit runPhase = iota
	phasePoll
	phaseExecuteTools
	phaseDone
)

// Runner drives one run of an agent instance over a thread against the
// managed backend: submit, poll, execute requested tools, resubmit outputs,
// detect completion. At most one poll is in flight per run.
type Runner struct {
	backend domain.AgentBackend
	tools   domain.ToolExecutor
	threads *Threads
	audit   domain.AuditStore
	logger  *slog.Logger
	cfg     RunnerConfig
}

// NewRunner creates a run executor.
func NewRunner(backend domain.AgentBackend, tools domain.ToolExecutor, threads *Threads, audit domain.AuditStore, cfg RunnerConfig, logger *slog.Logger) *Runner {
	cfg.applyDefaults()
	return &Runner{
		backend: backend,
		tools:   tools,
		threads: threads,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
	}
}

func newRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Drive executes one run to a terminal state. The run execution is returned
// with its tool trace preserved even on failure or timeout; the error mirrors
// the terminal status for callers that branch on it.
func (r *Runner) Drive(ctx context.Context, inst *domain.AgentInstance, threadID, userMessage string) (*domain.RunExecution, error) {
	ctx, span := tracer.StartSpan(ctx, "runner.drive",
		trace.WithAttributes(
			tracer.StringAttr("agent.name", inst.DefinitionName),
			tracer.StringAttr("thread.id", threadID),
		),
	)
	defer span.End()

	thread, release, err := r.threads.Acquire(threadID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	defer release()

	exec := &domain.RunExecution{
		ID:        newRunID(time.Now()),
		ThreadID:  threadID,
		AgentName: inst.DefinitionName,
		Status:    domain.RunQueued,
		StartedAt: time.Now(),
	}

	// Hard ceiling on the whole run, enforced even if the backend keeps
	// reporting progress.
	ceiling := time.Duration(r.cfg.MaxIterations) * r.cfg.PollTimeout
	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	err = r.drive(ctx, span, inst, thread, userMessage, exec)
	exec.CompletedAt = time.Now()

	if saveErr := r.audit.SaveRun(context.WithoutCancel(ctx), exec); saveErr != nil {
		r.logger.Warn("audit write failed", "run_id", exec.ID, "error", saveErr)
	}

	if err != nil {
		exec.Error = err.Error()
		tracer.RecordError(span, err)
		return exec, err
	}
	tracer.SetOK(span)
	return exec, nil
}

// drive walks the explicit state machine to a terminal status.
func (r *Runner) drive(ctx context.Context, span trace.Span, inst *domain.AgentInstance, thread *Thread, userMessage string, exec *domain.RunExecution) error {
	var (
		phase   = phaseSubmit
		run     *domain.BackendRun
		backRun string
	)

	for phase != phaseDone {
		select {
		case <-ctx.Done():
			exec.Status = domain.RunTimedOut
			return domain.NewDomainError("Runner.Drive", domain.ErrRunTimedOut, "run ceiling exceeded")
		default:
		}

		switch phase {
		case phaseSubmit:
			if err := r.submit(ctx, inst, thread, userMessage, exec, &backRun); err != nil {
				exec.Status = domain.RunFailed
				return err
			}
			exec.Status = domain.RunInProgress
			phase = phasePoll

		case phasePoll:
			polled, err := r.pollOnce(ctx, backRun)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					exec.Status = domain.RunTimedOut
					return domain.NewDomainError("Runner.Drive", domain.ErrRunTimedOut, "run ceiling exceeded")
				}
				exec.Status = domain.RunFailed
				return domain.WrapOp("Runner.Drive", err)
			}
			run = polled

			switch run.Status {
			case domain.RunCompleted:
				if err := r.finish(ctx, thread, exec); err != nil {
					exec.Status = domain.RunFailed
					return err
				}
				exec.Status = domain.RunCompleted
				phase = phaseDone

			case domain.RunRequiresAction:
				if exec.IterationCount >= r.cfg.MaxIterations {
					exec.Status = domain.RunTimedOut
					return domain.NewDomainError("Runner.Drive", domain.ErrMaxIterations,
						fmt.Sprintf("%d rounds", exec.IterationCount))
				}
				exec.Status = domain.RunRequiresAction
				phase = phaseExecuteTools

			case domain.RunFailed:
				exec.Status = domain.RunFailed
				return domain.NewDomainError("Runner.Drive", domain.ErrRunFailed, run.LastError)

			case domain.RunQueued, domain.RunInProgress:
				exec.Status = domain.RunInProgress
				select {
				case <-time.After(r.cfg.PollInterval):
				case <-ctx.Done():
					exec.Status = domain.RunTimedOut
					return domain.NewDomainError("Runner.Drive", domain.ErrRunTimedOut, "run ceiling exceeded")
				}

			default:
				exec.Status = domain.RunFailed
				return domain.NewDomainError("Runner.Drive", domain.ErrRunFailed,
					fmt.Sprintf("unexpected backend status %q", run.Status))
			}

		case phaseExecuteTools:
			exec.IterationCount++
			span.AddEvent("runner.tool_round", trace.WithAttributes(tracer.IntAttr("iteration", exec.IterationCount)))

			outputs := r.executeTools(ctx, thread, run.PendingToolCalls, exec)
			if err := r.backend.SubmitToolOutputs(ctx, backRun, outputs); err != nil {
				exec.Status = domain.RunFailed
				return domain.WrapOp("Runner.Drive", err)
			}
			phase = phasePoll
		}
	}
	return nil
}

// submit appends the user message and starts the backend run, binding the
// local thread to a backend thread on first managed use.
func (r *Runner) submit(ctx context.Context, inst *domain.AgentInstance, thread *Thread, userMessage string, exec *domain.RunExecution, backRun *string) error {
	if thread.BackendID == "" {
		backendThread, err := r.backend.CreateThread(ctx)
		if err != nil {
			return domain.WrapOp("Runner.submit", err)
		}
		thread.mu.Lock()
		thread.BackendID = backendThread
		thread.mu.Unlock()
	}

	// Replay local turns the backend thread has not seen: the accumulated
	// history on first bind, and any turns that ran on the fallback engine
	// while the backend was unavailable.
	for _, msg := range thread.unmirrored() {
		if err := r.backend.AddMessage(ctx, thread.BackendID, msg); err != nil {
			return domain.WrapOp("Runner.submit", err)
		}
	}
	thread.markMirrored()

	userMsg := domain.Message{Role: domain.RoleUser, Content: userMessage, Timestamp: time.Now()}
	if err := r.backend.AddMessage(ctx, thread.BackendID, userMsg); err != nil {
		return domain.WrapOp("Runner.submit", err)
	}
	thread.append(userMsg)
	thread.markMirrored()

	id, err := r.backend.CreateRun(ctx, thread.BackendID, inst.BackendAgentID)
	if err != nil {
		return domain.WrapOp("Runner.submit", err)
	}
	*backRun = id
	return nil
}

// pollOnce queries run status with a bounded wait. One poll in flight per run.
func (r *Runner) pollOnce(ctx context.Context, runID string) (*domain.BackendRun, error) {
	pollCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	defer cancel()
	return r.backend.GetRun(pollCtx, runID)
}

// executeTools resolves one round of requested tool calls in parallel,
// preserving the original call order in the outputs and the audit trail.
// Tool failures are encoded as structured results fed back to the model;
// they never abort the run.
func (r *Runner) executeTools(ctx context.Context, thread *Thread, calls []domain.ToolCall, exec *domain.RunExecution) []domain.ToolResult {
	outputs := make([]domain.ToolResult, len(calls))
	records := make([]domain.ToolCallRecord, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			outputs[idx], records[idx] = r.executeTool(ctx, c)
		}(i, call)
	}
	wg.Wait()

	exec.ToolTrace = append(exec.ToolTrace, records...)
	for i, out := range outputs {
		thread.append(domain.Message{
			Role:      domain.RoleTool,
			Name:      calls[i].Name,
			Content:   out.Content,
			ToolCalls: []domain.ToolCall{{ID: calls[i].ID, Name: calls[i].Name}},
			Timestamp: time.Now(),
		})
	}
	// Tool outputs reached the backend via SubmitToolOutputs; a later
	// replay must not resend them as messages.
	thread.markMirrored()
	return outputs
}

func (r *Runner) executeTool(ctx context.Context, call domain.ToolCall) (domain.ToolResult, domain.ToolCallRecord) {
	ctx, span := tracer.StartSpan(ctx, "runner.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	record := domain.ToolCallRecord{
		Name:      call.Name,
		Arguments: call.Arguments,
		Status:    domain.ToolCallPending,
	}
	start := time.Now()

	tool, err := r.tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		record.Status = domain.ToolCallFailed
		record.Result = err.Error()
		record.Duration = time.Since(start)
		return domain.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}, record
	}

	result, err := tool.Execute(ctx, call.Arguments)
	record.Duration = time.Since(start)
	if err != nil {
		tracer.RecordError(span, err)
		record.Status = domain.ToolCallFailed
		record.Result = err.Error()
		return domain.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}, record
	}

	record.Result = result.Content
	if result.IsError {
		record.Status = domain.ToolCallFailed
	} else {
		record.Status = domain.ToolCallExecuted
		tracer.SetOK(span)
	}
	return domain.ToolResult{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError}, record
}

// finish extracts the final assistant message from the backend thread and
// mirrors it into the local history.
func (r *Runner) finish(ctx context.Context, thread *Thread, exec *domain.RunExecution) error {
	msgs, err := r.backend.ListMessages(ctx, thread.BackendID)
	if err != nil {
		return domain.WrapOp("Runner.finish", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAssistant {
			exec.FinalMessage = msgs[i].Content
			thread.append(msgs[i])
			thread.markMirrored()
			return nil
		}
	}
	return domain.NewDomainError("Runner.finish", domain.ErrRunFailed, "no assistant message in thread")
}
