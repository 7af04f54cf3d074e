package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"claimflow/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedTool is a schema-less test tool.
type fixedTool struct {
	name   string
	result string
	calls  int
}

func (t *fixedTool) Name() string              { return t.name }
func (t *fixedTool) Description() string       { return t.name }
func (t *fixedTool) Schema() domain.ToolSchema { return domain.ToolSchema{Name: t.name} }
func (t *fixedTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	t.calls++
	return &domain.ToolResult{Content: t.result}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(discardLogger())
	if err := r.Register(&fixedTool{name: "alpha"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Get("alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "alpha" {
		t.Errorf("Name = %q", got.Name())
	}

	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("Get(missing) = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry(discardLogger())
	if err := r.Register(&fixedTool{name: "alpha"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&fixedTool{name: "alpha"}); err == nil {
		t.Fatal("duplicate Register must fail")
	}
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry(discardLogger())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&fixedTool{name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	schemas := r.Schemas()
	if len(schemas) != 3 || schemas[0].Name != "alpha" || schemas[1].Name != "mid" || schemas[2].Name != "zeta" {
		t.Errorf("Schemas() = %+v, want sorted by name", schemas)
	}
}

func TestRegistrySchemasForPreservesOrder(t *testing.T) {
	r := NewRegistry(discardLogger())
	for _, name := range []string{"alpha", "beta"} {
		if err := r.Register(&fixedTool{name: name}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	schemas := r.SchemasFor([]string{"beta", "unknown", "alpha"})
	if len(schemas) != 2 || schemas[0].Name != "beta" || schemas[1].Name != "alpha" {
		t.Errorf("SchemasFor = %+v", schemas)
	}
}

func TestSchemaValidationRejectsBadArguments(t *testing.T) {
	r := NewRegistry(discardLogger())
	inner := &VehicleTool{} // schema only; Execute must never be reached
	if err := r.Register(inner); err != nil {
		t.Fatalf("Register: %v", err)
	}
	registered, err := r.Get("get_vehicle_details")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	tests := []struct {
		name   string
		params string
	}{
		{"missing required field", `{}`},
		{"wrong type", `{"vin": 12345}`},
		{"too short", `{"vin": "abc"}`},
		{"not json", `vin=abc`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := registered.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("validation failure must be a structured result, got error: %v", err)
			}
			if !result.IsError {
				t.Errorf("result = %+v, want IsError", result)
			}
		})
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	lim := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	lim.now = func() time.Time { return now }

	if !lim.Allow() || !lim.Allow() {
		t.Fatal("first two calls must pass")
	}
	if lim.Allow() {
		t.Fatal("third call within the window must be rejected")
	}

	// A call expires out of the window; capacity frees up.
	now = now.Add(61 * time.Second)
	if !lim.Allow() {
		t.Fatal("call after window expiry must pass")
	}
}

func TestRateLimitedToolStructuredRejection(t *testing.T) {
	inner := &fixedTool{name: "alpha", result: "ok"}
	limited := WithRateLimit(inner, 1, time.Minute)

	first, err := limited.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil || first.IsError {
		t.Fatalf("first call = %+v, %v", first, err)
	}

	second, err := limited.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if !second.IsError {
		t.Errorf("second call = %+v, want rate limit rejection", second)
	}
	if inner.calls != 1 {
		t.Errorf("inner executed %d times, want 1", inner.calls)
	}
}
