package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"claimflow/internal/adapter/audit"
	"claimflow/internal/domain"
	"claimflow/internal/infra/config"
)

func TestRunAgentWithClaim(t *testing.T) {
	backend := newFakeBackend()
	backend.finalContent = "coverage confirmed"
	service, _ := newTestSystem(workflowConfig(false), backend, &fakeProvider{})

	result, err := service.RunAgent(context.Background(), "policy_checker", testClaim(), "")
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if !result.Success {
		t.Error("Success = false")
	}
	if result.FinalMessage != "coverage confirmed" {
		t.Errorf("FinalMessage = %q", result.FinalMessage)
	}
	if result.ThreadID == "" || result.ExecutionID == "" {
		t.Errorf("missing ids: %+v", result)
	}
	if len(result.Trace) == 0 || result.Trace[0].Role != domain.RoleUser {
		t.Errorf("trace = %+v, want leading user message", result.Trace)
	}
}

func TestRunAgentCustomQuery(t *testing.T) {
	backend := newFakeBackend()
	service, _ := newTestSystem(workflowConfig(false), backend, &fakeProvider{})

	result, err := service.RunAgent(context.Background(), "policy_checker", nil, "summarize coverage limits")
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if result.Trace[0].Content != "summarize coverage limits" {
		t.Errorf("first message = %q, want the custom query verbatim", result.Trace[0].Content)
	}
}

func TestRunAgentUnknownName(t *testing.T) {
	backend := newFakeBackend()
	service, _ := newTestSystem(workflowConfig(false), backend, &fakeProvider{})

	if _, err := service.RunAgent(context.Background(), "nonexistent", testClaim(), ""); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("RunAgent = %v, want ErrAgentNotFound", err)
	}
}

func TestRunAgentRequiresClaimOrQuery(t *testing.T) {
	backend := newFakeBackend()
	service, _ := newTestSystem(workflowConfig(false), backend, &fakeProvider{})

	if _, err := service.RunAgent(context.Background(), "policy_checker", nil, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("RunAgent = %v, want ErrInvalidInput", err)
	}
}

func TestContinueConversationExtendsTrace(t *testing.T) {
	backend := newFakeBackend()
	backend.finalContent = "answer"
	service, _ := newTestSystem(workflowConfig(false), backend, &fakeProvider{})

	first, err := service.RunAgent(context.Background(), "policy_checker", testClaim(), "")
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}

	second, err := service.ContinueConversation(context.Background(), first.ThreadID, "clarify coverage limit")
	if err != nil {
		t.Fatalf("ContinueConversation: %v", err)
	}
	if second.ThreadID != first.ThreadID {
		t.Errorf("thread id changed: %s -> %s", first.ThreadID, second.ThreadID)
	}
	if second.ExecutionID == first.ExecutionID {
		t.Error("continuation must be a new execution")
	}

	// The continuation's trace is a strict in-order superset of the first.
	if len(second.Trace) <= len(first.Trace) {
		t.Fatalf("trace did not grow: %d -> %d", len(first.Trace), len(second.Trace))
	}
	for i, msg := range first.Trace {
		if second.Trace[i].Role != msg.Role || second.Trace[i].Content != msg.Content {
			t.Fatalf("trace prefix diverged at %d: %+v vs %+v", i, msg, second.Trace[i])
		}
	}
}

func TestContinueConversationUnknownThread(t *testing.T) {
	backend := newFakeBackend()
	service, _ := newTestSystem(workflowConfig(false), backend, &fakeProvider{})

	if _, err := service.ContinueConversation(context.Background(), "missing", "hi"); !errors.Is(err, domain.ErrThreadNotFound) {
		t.Fatalf("ContinueConversation = %v, want ErrThreadNotFound", err)
	}
}

func TestContinueConversationSurvivesOutage(t *testing.T) {
	backend := newFakeBackend()
	backend.finalContent = "managed answer"
	provider := &fakeProvider{script: []domain.Completion{textCompletion("fallback answer")}}
	service, _ := newTestSystem(workflowConfig(false), backend, provider)

	first, err := service.RunAgent(context.Background(), "policy_checker", testClaim(), "")
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}

	// Backend goes down between turns; the continuation degrades but keeps
	// the same thread history.
	backend.mu.Lock()
	backend.pingErr = domain.ErrBackendUnavailable
	backend.mu.Unlock()

	second, err := service.ContinueConversation(context.Background(), first.ThreadID, "and the deductible?")
	if err != nil {
		t.Fatalf("ContinueConversation during outage: %v", err)
	}
	if second.FinalMessage != "fallback answer" {
		t.Errorf("FinalMessage = %q, want the fallback provider's answer", second.FinalMessage)
	}
	if second.Path != domain.PathFallback {
		t.Errorf("Path = %s, want fallback during the outage", second.Path)
	}
	if len(second.Trace) <= len(first.Trace) {
		t.Error("degraded continuation must still extend the trace")
	}
}

func TestManagedRunMirrorsFallbackTurns(t *testing.T) {
	backend := newFakeBackend()
	backend.finalContent = "managed answer"
	provider := &fakeProvider{script: []domain.Completion{textCompletion("fallback answer")}}

	cfg := workflowConfig(false)
	logger := testLogger()
	threads := NewThreads()
	store := audit.NewNoopStore()
	tools := newStubTools()
	runCfg := RunnerConfig{MaxIterations: 3, PollTimeout: time.Second, PollInterval: time.Millisecond}

	lifecycle := NewLifecycle(backend, logger)
	selector := NewSelector(backend, config.SelectorConfig{ProbeTTL: time.Nanosecond, RecoveryTTL: 20 * time.Millisecond}, logger)
	runner := NewRunner(backend, tools, threads, store, runCfg, logger)
	fb := NewFallback(provider, tools, threads, store, runCfg, logger)
	supervisor := NewSupervisor(cfg, lifecycle, runner, fb, selector, threads, store, logger)
	service := NewService(cfg, lifecycle, supervisor, selector, threads, logger)

	first, err := service.RunAgent(context.Background(), "policy_checker", testClaim(), "")
	if err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if first.Path != domain.PathManaged {
		t.Fatalf("first turn path = %s, want managed", first.Path)
	}

	// Backend outage: the next turn runs on the fallback engine.
	backend.mu.Lock()
	backend.pingErr = domain.ErrBackendUnavailable
	backend.mu.Unlock()

	second, err := service.ContinueConversation(context.Background(), first.ThreadID, "and the deductible?")
	if err != nil {
		t.Fatalf("ContinueConversation during outage: %v", err)
	}
	if second.Path != domain.PathFallback || second.FinalMessage != "fallback answer" {
		t.Fatalf("outage turn = (%s, %q), want the fallback path and answer", second.Path, second.FinalMessage)
	}

	// Backend recovers; wait out the circuit's half-open delay.
	backend.mu.Lock()
	backend.pingErr = nil
	backend.mu.Unlock()
	time.Sleep(40 * time.Millisecond)

	third, err := service.ContinueConversation(context.Background(), first.ThreadID, "approve the claim")
	if err != nil {
		t.Fatalf("ContinueConversation after recovery: %v", err)
	}
	if third.Path != domain.PathManaged {
		t.Fatalf("recovered turn path = %s, want managed", third.Path)
	}

	// The backend thread must have caught up with the fallback-era turns:
	// after the recovered run it mirrors the local history message for
	// message, so the managed model resumed with full context.
	thread, err := threads.get(first.ThreadID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	mirrored, err := backend.ListMessages(context.Background(), thread.BackendID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(mirrored) != len(third.Trace) {
		t.Fatalf("backend thread has %d messages, local history has %d", len(mirrored), len(third.Trace))
	}
	for i, msg := range third.Trace {
		if mirrored[i].Role != msg.Role || mirrored[i].Content != msg.Content {
			t.Fatalf("backend thread diverges at %d: got %s %q, want %s %q",
				i, mirrored[i].Role, mirrored[i].Content, msg.Role, msg.Content)
		}
	}
}
