package domain

import "context"

// AgentBackend is the managed agent service the core drives: agent
// registration, threads, and polled tool-calling runs. Backends generally
// lack a get-agent-by-name primitive, hence ListAgents.
type AgentBackend interface {
	CreateAgent(ctx context.Context, def AgentDefinition) (string, error)
	ListAgents(ctx context.Context) ([]AgentRef, error)
	// DeleteAgent is a maintenance/teardown operation, never called during
	// normal claim processing.
	DeleteAgent(ctx context.Context, agentID string) error

	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID string, msg Message) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)

	CreateRun(ctx context.Context, threadID, agentID string) (string, error)
	GetRun(ctx context.Context, runID string) (*BackendRun, error)
	SubmitToolOutputs(ctx context.Context, runID string, outputs []ToolResult) error

	// Ping is a cheap reachability probe used by the backend selector.
	Ping(ctx context.Context) error
}

// ReasoningProvider is the single-shot completion backend used by the
// fallback workflow engine: one request/response call per step, tool-call
// requests embedded in the response message.
type ReasoningProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}
