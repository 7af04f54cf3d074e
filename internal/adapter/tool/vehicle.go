package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"claimflow/internal/domain"
)

// VehicleTool looks up vehicle details by VIN from the vehicle data service.
type VehicleTool struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewVehicleTool creates the get_vehicle_details tool.
func NewVehicleTool(baseURL string, client *http.Client, logger *slog.Logger) *VehicleTool {
	return &VehicleTool{baseURL: baseURL, client: client, logger: logger}
}

func (t *VehicleTool) Name() string { return "get_vehicle_details" }
func (t *VehicleTool) Description() string {
	return "Look up make, model, year and valuation details for a vehicle by its VIN."
}

func (t *VehicleTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"vin": {
					"type": "string",
					"minLength": 11,
					"maxLength": 17,
					"description": "Vehicle identification number."
				}
			},
			"required": ["vin"]
		}`),
	}
}

type vehicleParams struct {
	VIN string `json:"vin"`
}

func (t *VehicleTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p vehicleParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult(err), nil
	}

	body, err := postJSON(ctx, t.client, t.baseURL+"/vehicles/lookup", p)
	if err != nil {
		t.logger.Warn("vehicle lookup failed", "vin", p.VIN, "error", err)
		return errResult(err), nil
	}
	return okResult(body), nil
}
