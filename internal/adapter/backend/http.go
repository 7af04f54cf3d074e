package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"claimflow/internal/adapter/llm"
	"claimflow/internal/domain"
	"claimflow/internal/infra/config"
)

// maxResponseBody is the maximum response body size read from the backend.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Client implements domain.AgentBackend against an assistants-style REST
// API: agents, threads, messages, and polled tool-calling runs. Run polls
// are rate limited so many concurrent runs cannot hammer the backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	pollLim *rate.Limiter
	logger  *slog.Logger
}

// New creates a backend client from config.
func New(cfg config.BackendConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  llm.NewHTTPClient(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
		pollLim: rate.NewLimiter(rate.Limit(cfg.PollRate), cfg.PollBurst),
		logger:  logger,
	}
}

// --- wire types ---

type wireAgent struct {
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name"`
	Instructions string            `json:"instructions,omitempty"`
	Model        string            `json:"model,omitempty"`
	Tools        []wireToolSchema  `json:"tools,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type wireToolSchema struct {
	Type     string            `json:"type"`
	Function domain.ToolSchema `json:"function"`
}

type wireList[T any] struct {
	Data []T `json:"data"`
}

type wireThread struct {
	ID string `json:"id"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	CreatedAt int64          `json:"created_at,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireRun struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	AgentID        string `json:"agent_id"`
	Status         string `json:"status"`
	LastError      string `json:"last_error,omitempty"`
	RequiredAction *struct {
		ToolCalls []wireToolCall `json:"tool_calls"`
	} `json:"required_action,omitempty"`
}

type wireToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error,omitempty"`
}

// --- AgentBackend implementation ---

// CreateAgent registers an agent definition and returns the backend id.
// Rejections (4xx) map to ErrAgentCreationFailed; transport failures map to
// ErrBackendUnavailable.
func (c *Client) CreateAgent(ctx context.Context, def domain.AgentDefinition) (string, error) {
	payload := wireAgent{
		Name:         def.Name,
		Instructions: def.Instructions,
		Model:        def.Model,
		Metadata:     map[string]string{"specialist": string(def.Specialist)},
	}
	for _, name := range def.ToolNames {
		payload.Tools = append(payload.Tools, wireToolSchema{
			Type:     "function",
			Function: domain.ToolSchema{Name: name},
		})
	}

	var created wireAgent
	if err := c.do(ctx, http.MethodPost, "/agents", payload, &created); err != nil {
		if domain.IsInfrastructure(err) {
			return "", err
		}
		return "", domain.NewDomainError("backend.CreateAgent", domain.ErrAgentCreationFailed, err.Error())
	}
	c.logger.Info("agent created", "name", def.Name, "agent_id", created.ID)
	return created.ID, nil
}

// ListAgents returns all registered agents as (id, name) pairs.
func (c *Client) ListAgents(ctx context.Context) ([]domain.AgentRef, error) {
	var list wireList[wireAgent]
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &list); err != nil {
		return nil, err
	}
	refs := make([]domain.AgentRef, 0, len(list.Data))
	for _, a := range list.Data {
		refs = append(refs, domain.AgentRef{ID: a.ID, Name: a.Name})
	}
	return refs, nil
}

// DeleteAgent removes an agent. Maintenance/teardown only.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+agentID, nil, nil)
}

// CreateThread opens a new empty thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var t wireThread
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// AddMessage appends a message to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID string, msg domain.Message) error {
	payload := wireMessage{Role: msg.Role, Content: msg.Content}
	return c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", payload, nil)
}

// ListMessages returns a thread's messages in append order.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	var list wireList[wireMessage]
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, &list); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(list.Data))
	for _, m := range list.Data {
		msgs = append(msgs, domain.Message{
			Role:      m.Role,
			Content:   m.Content,
			ToolCalls: fromWireToolCalls(m.ToolCalls),
			Timestamp: time.Unix(m.CreatedAt, 0),
		})
	}
	return msgs, nil
}

// CreateRun starts a run of the given agent over a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, agentID string) (string, error) {
	payload := map[string]string{"agent_id": agentID}
	var run wireRun
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", payload, &run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// GetRun polls a run's status. Calls wait on the shared poll rate limiter.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.BackendRun, error) {
	if err := c.pollLim.Wait(ctx); err != nil {
		return nil, err
	}

	var run wireRun
	if err := c.do(ctx, http.MethodGet, "/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}

	out := &domain.BackendRun{
		ID:        run.ID,
		ThreadID:  run.ThreadID,
		AgentID:   run.AgentID,
		Status:    domain.RunStatus(run.Status),
		LastError: run.LastError,
	}
	if run.RequiredAction != nil {
		out.PendingToolCalls = fromWireToolCalls(run.RequiredAction.ToolCalls)
	}
	return out, nil
}

// SubmitToolOutputs feeds tool results back into a run awaiting action.
func (c *Client) SubmitToolOutputs(ctx context.Context, runID string, outputs []domain.ToolResult) error {
	payload := struct {
		ToolOutputs []wireToolOutput `json:"tool_outputs"`
	}{}
	for _, o := range outputs {
		payload.ToolOutputs = append(payload.ToolOutputs, wireToolOutput{
			ToolCallID: o.ToolCallID,
			Output:     o.Content,
			IsError:    o.IsError,
		})
	}
	return c.do(ctx, http.MethodPost, "/runs/"+runID+"/tool_outputs", payload, nil)
}

// Ping probes backend reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do performs one backend request. Transport failures and 5xx responses map
// to ErrBackendUnavailable so the selector can demote to fallback.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewDomainError("backend."+method+" "+path, domain.ErrBackendUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return domain.NewDomainError("backend."+method+" "+path, domain.ErrBackendUnavailable,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(respBody)))
	case resp.StatusCode >= 300:
		return fmt.Errorf("backend %s %s: status %d: %s", method, path, resp.StatusCode, truncateBody(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func fromWireToolCalls(calls []wireToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

var _ domain.AgentBackend = (*Client)(nil)
