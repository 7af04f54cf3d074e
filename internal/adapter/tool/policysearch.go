package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"claimflow/internal/domain"
)

// PolicySearchTool queries the policy document index.
type PolicySearchTool struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewPolicySearchTool creates the search_policy_documents tool.
func NewPolicySearchTool(baseURL string, client *http.Client, logger *slog.Logger) *PolicySearchTool {
	return &PolicySearchTool{baseURL: baseURL, client: client, logger: logger}
}

func (t *PolicySearchTool) Name() string { return "search_policy_documents" }
func (t *PolicySearchTool) Description() string {
	return "Search indexed policy documents for coverage terms, limits and exclusions matching a query."
}

func (t *PolicySearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"minLength": 1,
					"description": "Natural-language coverage question or clause to search for."
				},
				"policy_number": {
					"type": "string",
					"description": "Restrict search to a specific policy."
				},
				"top": {
					"type": "integer",
					"minimum": 1,
					"maximum": 20,
					"description": "Maximum number of passages to return (default 5)."
				}
			},
			"required": ["query"]
		}`),
	}
}

type policySearchParams struct {
	Query        string `json:"query"`
	PolicyNumber string `json:"policy_number,omitempty"`
	Top          int    `json:"top,omitempty"`
}

func (t *PolicySearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p policySearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult(err), nil
	}
	if p.Top <= 0 {
		p.Top = 5
	}

	body, err := postJSON(ctx, t.client, t.baseURL+"/policies/search", p)
	if err != nil {
		t.logger.Warn("policy search failed", "query", p.Query, "error", err)
		return errResult(err), nil
	}
	return okResult(body), nil
}
