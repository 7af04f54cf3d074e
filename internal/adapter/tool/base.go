package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"claimflow/internal/domain"
)

// maxToolResponseBody bounds what we read back from enterprise services.
const maxToolResponseBody = 4 * 1024 * 1024 // 4 MB

// NewHTTPClient returns an http.Client suitable for the claim data services.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON performs a JSON POST against an enterprise service and returns
// the raw response body.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError("tool.postJSON", domain.ErrToolFailure,
			fmt.Sprintf("%s returned %d", url, resp.StatusCode))
	}
	return respBody, nil
}

// okResult wraps a service response as a successful tool result.
func okResult(body []byte) *domain.ToolResult {
	return &domain.ToolResult{Content: string(body)}
}

// errResult encodes a failure as a structured result the model can react to.
func errResult(err error) *domain.ToolResult {
	return &domain.ToolResult{Content: err.Error(), IsError: true}
}
