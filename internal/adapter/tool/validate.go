package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"claimflow/internal/domain"
)

// SchemaValidatingTool wraps a Tool with JSON Schema validation.
// On Execute, it validates params against the compiled schema before
// delegating; validation failures come back as structured tool errors, not
// aborts, so the model can see and correct them.
type SchemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps a tool so that Execute validates params against
// the tool's JSON Schema before forwarding to the inner tool.
// Returns error if the schema fails to compile.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	params := t.Schema().Parameters
	if len(params) == 0 {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(params))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &SchemaValidatingTool{inner: t, schema: schema}, nil
}

func (t *SchemaValidatingTool) Name() string              { return t.inner.Name() }
func (t *SchemaValidatingTool) Description() string       { return t.inner.Description() }
func (t *SchemaValidatingTool) Schema() domain.ToolSchema { return t.inner.Schema() }

// Execute validates params, then delegates to the inner tool.
func (t *SchemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var data any
	if err := json.Unmarshal(params, &data); err != nil {
		return &domain.ToolResult{
			Content: fmt.Sprintf("invalid arguments: %v", err),
			IsError: true,
		}, nil
	}

	result := t.schema.Validate(data)
	if !result.IsValid() {
		return &domain.ToolResult{
			Content: fmt.Sprintf("arguments do not match schema: %s", result.Error()),
			IsError: true,
		}, nil
	}

	return t.inner.Execute(ctx, params)
}
