package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"claimflow/internal/domain"
	"claimflow/internal/infra/config"
)

func testProvider(t *testing.T, handler http.Handler) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(config.ProviderConfig{
		Name:    "openai",
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCompleteTextResponse(t *testing.T) {
	var gotReq openaiRequest
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(openaiResponse{
			ID:    "cmpl-1",
			Model: "gpt-4o",
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: "assistant", Content: "coverage confirmed"},
				FinishReason: "stop",
			}},
			Usage: openaiUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))

	completion, err := provider.Complete(context.Background(), domain.CompletionRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "check coverage"},
			{Role: domain.RoleUser, Content: "claim CLM-001"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Message.Content != "coverage confirmed" {
		t.Errorf("content = %q", completion.Message.Content)
	}
	if completion.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", completion.Usage)
	}
	// Model defaulted from config when the request leaves it empty.
	if gotReq.Model != "gpt-4o" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}
}

func TestCompleteToolCallRoundTrip(t *testing.T) {
	var gotReq openaiRequest
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{
				Message: openaiMessage{
					Role: "assistant",
					ToolCalls: []openaiToolCall{{
						ID:   "call-1",
						Type: "function",
						Function: openaiToolCallFunction{
							Name:      "get_vehicle_details",
							Arguments: `{"vin":"1HG"}`,
						},
					}},
				},
				FinishReason: "tool_calls",
			}},
		})
	}))

	completion, err := provider.Complete(context.Background(), domain.CompletionRequest{
		Model: "gpt-4o",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "look up the vehicle"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "call-0", Name: "search_policy_documents", Arguments: json.RawMessage(`{"query":"q"}`)},
			}},
			{Role: domain.RoleTool, Name: "search_policy_documents", Content: "no exclusions",
				ToolCalls: []domain.ToolCall{{ID: "call-0"}}},
		},
		Tools: []domain.ToolSchema{
			{Name: "get_vehicle_details", Description: "vehicle lookup", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Response tool call surfaces as a typed domain value.
	if len(completion.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", completion.Message.ToolCalls)
	}
	call := completion.Message.ToolCalls[0]
	if call.ID != "call-1" || call.Name != "get_vehicle_details" || string(call.Arguments) != `{"vin":"1HG"}` {
		t.Errorf("call = %+v", call)
	}

	// Outbound wire shape: assistant tool calls and tool_call_id linkage.
	if len(gotReq.Messages) != 3 {
		t.Fatalf("request messages = %+v", gotReq.Messages)
	}
	if gotReq.Messages[1].ToolCalls[0].Function.Name != "search_policy_documents" {
		t.Errorf("assistant tool call = %+v", gotReq.Messages[1].ToolCalls)
	}
	if gotReq.Messages[2].ToolCallID != "call-0" {
		t.Errorf("tool message tool_call_id = %q, want call-0", gotReq.Messages[2].ToolCallID)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Type != "function" {
		t.Errorf("request tools = %+v", gotReq.Tools)
	}
}

func TestCompleteServerError(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))

	if _, err := provider.Complete(context.Background(), domain.CompletionRequest{Model: "gpt-4o"}); !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("Complete = %v, want ErrProviderError", err)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	fail := true
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "ok"}}},
		})
	}))

	wrapped := NewCircuitBreakerProvider(provider, config.BreakerConfig{
		MaxFailures: 2,
		Timeout:     20 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := domain.CompletionRequest{Model: "gpt-4o"}
	for i := 0; i < 2; i++ {
		if _, err := wrapped.Complete(context.Background(), req); err == nil {
			t.Fatal("expected failure")
		}
	}
	if wrapped.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open after consecutive failures", wrapped.State())
	}

	// Open circuit fails fast without a request.
	if _, err := wrapped.Complete(context.Background(), req); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Complete while open = %v, want ErrOpenState", err)
	}

	fail = false
	time.Sleep(40 * time.Millisecond)
	completion, err := wrapped.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete after recovery: %v", err)
	}
	if completion.Message.Content != "ok" {
		t.Errorf("content = %q", completion.Message.Content)
	}
	if wrapped.State() != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed after successful probe", wrapped.State())
	}
}
