package domain

import "time"

// AgentDefinition is an immutable agent template, identified by its logical
// name ("policy_checker_v2"), never by a backend-assigned id.
type AgentDefinition struct {
	Name         string     `json:"name"          yaml:"name"`
	Specialist   Specialist `json:"specialist"    yaml:"specialist"`
	Instructions string     `json:"instructions"  yaml:"instructions"`
	ToolNames    []string   `json:"tools,omitempty" yaml:"tools,omitempty"`
	Model        string     `json:"model"         yaml:"model"`
	MaxIter      int        `json:"max_iter,omitempty" yaml:"max_iter,omitempty"`
}

// AgentInstance is a deployed realization of an AgentDefinition on a backend.
// At most one instance exists per (backend, definition name) pair.
type AgentInstance struct {
	BackendAgentID string    `json:"backend_agent_id"`
	DefinitionName string    `json:"definition_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgentRef is a lightweight (id, name) pair returned by backend listings.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
