package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	maxErrorBodyBytes    = 2 << 10
	maxResponseBodyBytes = 8 << 20
)

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// postGenerate sends one non-streaming /api/generate call. An "error" field
// in a 200 answer is reported like a failed status.
func (c *Client) postGenerate(ctx context.Context, operation string, req generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", operation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", newStatusError(operation, req.Model, resp.StatusCode, raw)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode %s response: %w", operation, err)
	}
	if out.Error != "" {
		return "", &StatusError{Operation: operation, Model: req.Model, StatusCode: resp.StatusCode, Message: out.Error}
	}
	return out.Response, nil
}
