package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"claimflow/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is a scriptable in-memory AgentBackend. Each created run
// demands toolRounds requires_action rounds (requesting pendingCalls each
// time) before completing with finalContent.
type fakeBackend struct {
	mu sync.Mutex

	pingErr     error
	pingCalls   int
	createErr   error
	listErr     error
	runErr      string // non-empty: every run reports failed with this message
	existing    []domain.AgentRef
	createCalls int

	toolRounds   int
	pendingCalls []domain.ToolCall
	finalContent string
	failNames    map[string]bool // agent names whose runs report failed

	threads    map[string][]domain.Message
	agentNames map[string]string // agent id -> name
	runThreads map[string]string
	runAgents  map[string]string // run id -> agent id
	runRounds  map[string]int
	submitted  map[string][][]domain.ToolResult
	seq        int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		finalContent: "done",
		failNames:    make(map[string]bool),
		threads:      make(map[string][]domain.Message),
		agentNames:   make(map[string]string),
		runThreads:   make(map[string]string),
		runAgents:    make(map[string]string),
		runRounds:    make(map[string]int),
		submitted:    make(map[string][][]domain.ToolResult),
	}
}

func (b *fakeBackend) CreateAgent(_ context.Context, def domain.AgentDefinition) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.createCalls++
	id := fmt.Sprintf("agent-%d", b.createCalls)
	b.existing = append(b.existing, domain.AgentRef{ID: id, Name: def.Name})
	b.agentNames[id] = def.Name
	return id, nil
}

func (b *fakeBackend) ListAgents(context.Context) ([]domain.AgentRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]domain.AgentRef(nil), b.existing...), nil
}

func (b *fakeBackend) DeleteAgent(context.Context, string) error { return nil }

func (b *fakeBackend) CreateThread(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pingErr != nil {
		return "", b.pingErr
	}
	b.seq++
	id := fmt.Sprintf("bthread-%d", b.seq)
	b.threads[id] = nil
	return id, nil
}

func (b *fakeBackend) AddMessage(_ context.Context, threadID string, msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads[threadID] = append(b.threads[threadID], msg)
	return nil
}

func (b *fakeBackend) ListMessages(_ context.Context, threadID string) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.threads[threadID]...), nil
}

func (b *fakeBackend) CreateRun(_ context.Context, threadID, agentID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("brun-%d", b.seq)
	b.runThreads[id] = threadID
	b.runAgents[id] = agentID
	return id, nil
}

func (b *fakeBackend) GetRun(_ context.Context, runID string) (*domain.BackendRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	run := &domain.BackendRun{ID: runID, ThreadID: b.runThreads[runID]}
	if b.runErr != "" || b.failNames[b.agentNames[b.runAgents[runID]]] {
		run.Status = domain.RunFailed
		run.LastError = b.runErr
		if run.LastError == "" {
			run.LastError = "backend call failed"
		}
		return run, nil
	}
	if b.toolRounds < 0 || b.runRounds[runID] < b.toolRounds {
		run.Status = domain.RunRequiresAction
		run.PendingToolCalls = append([]domain.ToolCall(nil), b.pendingCalls...)
		return run, nil
	}
	run.Status = domain.RunCompleted
	threadID := b.runThreads[runID]
	b.threads[threadID] = append(b.threads[threadID], domain.Message{
		Role:    domain.RoleAssistant,
		Content: b.finalContent,
	})
	return run, nil
}

func (b *fakeBackend) SubmitToolOutputs(_ context.Context, runID string, outputs []domain.ToolResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runRounds[runID]++
	b.submitted[runID] = append(b.submitted[runID], outputs)
	return nil
}

func (b *fakeBackend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pingCalls++
	return b.pingErr
}

var _ domain.AgentBackend = (*fakeBackend)(nil)

// fakeProvider replays scripted completions in order, repeating the last one.
type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	err    error
	script []domain.Completion
}

func (p *fakeProvider) Complete(context.Context, domain.CompletionRequest) (*domain.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.calls++
	c := p.script[idx]
	return &c, nil
}

func (p *fakeProvider) Name() string { return "fake" }

func toolCallCompletion(calls ...domain.ToolCall) domain.Completion {
	return domain.Completion{Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}}
}

func textCompletion(content string) domain.Completion {
	return domain.Completion{Message: domain.Message{Role: domain.RoleAssistant, Content: content}}
}

// stubTool returns a fixed result, optionally an execution error.
type stubTool struct {
	name   string
	result string
	isErr  bool
	err    error
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return t.name }
func (t *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *stubTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &domain.ToolResult{Content: t.result, IsError: t.isErr}, nil
}

// stubTools is a minimal ToolExecutor over named stub tools.
type stubTools struct {
	tools map[string]domain.Tool
}

func newStubTools(tools ...domain.Tool) *stubTools {
	m := make(map[string]domain.Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &stubTools{tools: m}
}

func (s *stubTools) Get(name string) (domain.Tool, error) {
	t, ok := s.tools[name]
	if !ok {
		return nil, domain.NewDomainError("stubTools.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (s *stubTools) Schemas() []domain.ToolSchema {
	var schemas []domain.ToolSchema
	for _, t := range s.tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

func (s *stubTools) SchemasFor(names []string) []domain.ToolSchema {
	var schemas []domain.ToolSchema
	for _, name := range names {
		if t, ok := s.tools[name]; ok {
			schemas = append(schemas, t.Schema())
		}
	}
	return schemas
}

var _ domain.ToolExecutor = (*stubTools)(nil)
