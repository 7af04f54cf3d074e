package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a run. A run is terminal once it
// reaches completed, failed or timed_out and is never reused.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunTimedOut       RunStatus = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunTimedOut:
		return true
	}
	return false
}

// BackendRun is a backend's view of a run: its status plus any tool calls
// the model wants executed before the run can proceed.
type BackendRun struct {
	ID               string     `json:"id"`
	ThreadID         string     `json:"thread_id"`
	AgentID          string     `json:"agent_id"`
	Status           RunStatus  `json:"status"`
	PendingToolCalls []ToolCall `json:"pending_tool_calls,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// ToolCallStatus tracks resolution of a single tool call.
type ToolCallStatus string

const (
	ToolCallPending  ToolCallStatus = "pending"
	ToolCallExecuted ToolCallStatus = "executed"
	ToolCallFailed   ToolCallStatus = "failed"
)

// ToolCallRecord is one entry in a run's audit trail.
type ToolCallRecord struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	Status    ToolCallStatus  `json:"status"`
	Duration  time.Duration   `json:"duration_ns"`
}

// RunExecution is one attempt to drive an agent over a thread. The tool
// trace and iteration count are preserved for explainability, including on
// failed and timed-out runs.
type RunExecution struct {
	ID             string           `json:"id"`
	ThreadID       string           `json:"thread_id"`
	AgentName      string           `json:"agent_name"`
	Status         RunStatus        `json:"status"`
	IterationCount int              `json:"iteration_count"`
	FinalMessage   string           `json:"final_message,omitempty"`
	ToolTrace      []ToolCallRecord `json:"tool_trace,omitempty"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
}
