package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"claimflow/internal/domain"
)

// ImageTool sends a damage photo reference to the image analysis service and
// returns the extracted damage assessment.
type ImageTool struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewImageTool creates the analyze_image tool.
func NewImageTool(baseURL string, client *http.Client, logger *slog.Logger) *ImageTool {
	return &ImageTool{baseURL: baseURL, client: client, logger: logger}
}

func (t *ImageTool) Name() string { return "analyze_image" }
func (t *ImageTool) Description() string {
	return "Analyze a claim damage photo by reference and return detected damage regions and severity."
}

func (t *ImageTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"image_ref": {
					"type": "string",
					"description": "Opaque reference to an uploaded claim image."
				}
			},
			"required": ["image_ref"]
		}`),
	}
}

type imageParams struct {
	ImageRef string `json:"image_ref"`
}

func (t *ImageTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p imageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult(err), nil
	}

	body, err := postJSON(ctx, t.client, t.baseURL+"/images/analyze", p)
	if err != nil {
		t.logger.Warn("image analysis failed", "image_ref", p.ImageRef, "error", err)
		return errResult(err), nil
	}
	return okResult(body), nil
}
