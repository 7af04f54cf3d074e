package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"claimflow/internal/domain"
)

// HistoryTool fetches a claimant's prior claim history from the enterprise
// claims system.
type HistoryTool struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHistoryTool creates the get_claimant_history tool.
func NewHistoryTool(baseURL string, client *http.Client, logger *slog.Logger) *HistoryTool {
	return &HistoryTool{baseURL: baseURL, client: client, logger: logger}
}

func (t *HistoryTool) Name() string { return "get_claimant_history" }
func (t *HistoryTool) Description() string {
	return "Retrieve prior claims, payouts and flags for a claimant by id."
}

func (t *HistoryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"claimant_id": {
					"type": "string",
					"minLength": 1,
					"description": "Claimant identifier."
				},
				"years": {
					"type": "integer",
					"minimum": 1,
					"maximum": 10,
					"description": "How many years of history to include (default 5)."
				}
			},
			"required": ["claimant_id"]
		}`),
	}
}

type historyParams struct {
	ClaimantID string `json:"claimant_id"`
	Years      int    `json:"years,omitempty"`
}

func (t *HistoryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p historyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult(err), nil
	}
	if p.Years <= 0 {
		p.Years = 5
	}

	body, err := postJSON(ctx, t.client, t.baseURL+"/claimants/history", p)
	if err != nil {
		t.logger.Warn("claimant history lookup failed", "claimant_id", p.ClaimantID, "error", err)
		return errResult(err), nil
	}
	return okResult(body), nil
}
