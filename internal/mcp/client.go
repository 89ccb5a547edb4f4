// Package mcp is the HTTP client for the external analysis backend that
// performs the actual signal computation, fibonacci math, and scanning. The
// backend is an opaque collaborator: requests and responses pass through as
// JSON without interpretation here.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one MCP deployment. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// AnalyzeRequest asks for a single-symbol technical analysis.
type AnalyzeRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// ScanRequest asks for a universe scan.
type ScanRequest struct {
	Universe  string `json:"universe"`
	Timeframe string `json:"timeframe"`
	Strategy  string `json:"strategy,omitempty"`
}

// ScanResponse is the one MCP payload this service looks inside, because the
// result list must be clamped to the caller's tier.
type ScanResponse struct {
	Results []json.RawMessage `json:"results"`
	Meta    json.RawMessage   `json:"meta,omitempty"`
}

// Analyze runs a single-symbol analysis and returns the raw MCP payload.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (json.RawMessage, error) {
	return c.post(ctx, "/analyze", req)
}

// Scan runs a universe scan.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*ScanResponse, error) {
	raw, err := c.post(ctx, "/scan", req)
	if err != nil {
		return nil, err
	}
	var out ScanResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mcp: decode scan response: %w", err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp: %s: status %d", path, resp.StatusCode)
	}
	return json.RawMessage(data), nil
}
