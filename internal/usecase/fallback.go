package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"claimflow/internal/domain"
	"claimflow/internal/infra/tracer"
)

// Fallback drives an agent step without the managed backend: a direct
// completion call per round, with tool calls resolved locally against the
// same registry the managed path uses. The result is shape-compatible with
// the managed runner so callers cannot tell the paths apart structurally.
type Fallback struct {
	provider domain.ReasoningProvider
	tools    domain.ToolExecutor
	threads  *Threads
	audit    domain.AuditStore
	logger   *slog.Logger
	cfg      RunnerConfig
}

// NewFallback creates a degraded-path executor.
func NewFallback(provider domain.ReasoningProvider, tools domain.ToolExecutor, threads *Threads, audit domain.AuditStore, cfg RunnerConfig, logger *slog.Logger) *Fallback {
	cfg.applyDefaults()
	return &Fallback{
		provider: provider,
		tools:    tools,
		threads:  threads,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// Drive runs the local tool-calling loop for one agent definition over a
// thread. The loop is bounded by the definition's MaxIter when set, else the
// shared MaxIterations default, and ends with TimedOut if the model keeps
// requesting tools past the bound.
func (f *Fallback) Drive(ctx context.Context, def *domain.AgentDefinition, threadID, userMessage string) (*domain.RunExecution, error) {
	ctx, span := tracer.StartSpan(ctx, "fallback.drive",
		trace.WithAttributes(
			tracer.StringAttr("agent.name", def.Name),
			tracer.StringAttr("thread.id", threadID),
		),
	)
	defer span.End()

	thread, release, err := f.threads.Acquire(threadID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	defer release()

	exec := &domain.RunExecution{
		ID:        newRunID(time.Now()),
		ThreadID:  threadID,
		AgentName: def.Name,
		Status:    domain.RunInProgress,
		StartedAt: time.Now(),
	}

	err = f.loop(ctx, def, thread, userMessage, exec)
	exec.CompletedAt = time.Now()

	if saveErr := f.audit.SaveRun(context.WithoutCancel(ctx), exec); saveErr != nil {
		f.logger.Warn("audit write failed", "run_id", exec.ID, "error", saveErr)
	}

	if err != nil {
		exec.Error = err.Error()
		tracer.RecordError(span, err)
		return exec, err
	}
	tracer.SetOK(span)
	return exec, nil
}

func (f *Fallback) loop(ctx context.Context, def *domain.AgentDefinition, thread *Thread, userMessage string, exec *domain.RunExecution) error {
	maxIter := def.MaxIter
	if maxIter <= 0 {
		maxIter = f.cfg.MaxIterations
	}

	thread.append(domain.Message{Role: domain.RoleUser, Content: userMessage, Timestamp: time.Now()})
	schemas := f.tools.SchemasFor(def.ToolNames)

	for {
		req := domain.CompletionRequest{
			Model:    def.Model,
			Messages: append([]domain.Message{{Role: domain.RoleSystem, Content: def.Instructions}}, thread.messages()...),
			Tools:    schemas,
		}

		completion, err := f.provider.Complete(ctx, req)
		if err != nil {
			exec.Status = domain.RunFailed
			return domain.WrapOp("Fallback.Drive", err)
		}

		msg := completion.Message
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		thread.append(msg)

		if len(msg.ToolCalls) == 0 {
			exec.Status = domain.RunCompleted
			exec.FinalMessage = msg.Content
			return nil
		}

		if exec.IterationCount >= maxIter {
			exec.Status = domain.RunTimedOut
			return domain.NewDomainError("Fallback.Drive", domain.ErrMaxIterations,
				fmt.Sprintf("%d rounds", exec.IterationCount))
		}
		exec.IterationCount++

		for _, result := range f.executeRound(ctx, msg.ToolCalls, exec) {
			thread.append(result)
		}
	}
}

// executeRound resolves one round of tool calls in parallel, preserving the
// request order in both the trace and the returned tool messages.
func (f *Fallback) executeRound(ctx context.Context, calls []domain.ToolCall, exec *domain.RunExecution) []domain.Message {
	results := make([]domain.Message, len(calls))
	records := make([]domain.ToolCallRecord, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			results[idx], records[idx] = f.executeCall(ctx, c)
		}(i, call)
	}
	wg.Wait()

	exec.ToolTrace = append(exec.ToolTrace, records...)
	return results
}

func (f *Fallback) executeCall(ctx context.Context, call domain.ToolCall) (domain.Message, domain.ToolCallRecord) {
	ctx, span := tracer.StartSpan(ctx, "fallback.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	record := domain.ToolCallRecord{
		Name:      call.Name,
		Arguments: call.Arguments,
		Status:    domain.ToolCallPending,
	}
	start := time.Now()

	content := ""
	tool, err := f.tools.Get(call.Name)
	if err == nil {
		var result *domain.ToolResult
		result, err = tool.Execute(ctx, call.Arguments)
		if err == nil {
			content = result.Content
			if result.IsError {
				record.Status = domain.ToolCallFailed
			} else {
				record.Status = domain.ToolCallExecuted
				tracer.SetOK(span)
			}
		}
	}
	if err != nil {
		tracer.RecordError(span, err)
		record.Status = domain.ToolCallFailed
		content = err.Error()
	}

	record.Result = content
	record.Duration = time.Since(start)

	return domain.Message{
		Role:      domain.RoleTool,
		Name:      call.Name,
		Content:   content,
		ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
		Timestamp: time.Now(),
	}, record
}
