// Package api is the typed HTTP client for the farming-assistant gateway:
// non-streaming chat, media upload, transcription, speech synthesis, vision
// diagnosis, and session persistence. Each operation carries its own
// protocol timeout; the streaming chat endpoint lives in stream.go.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldhand/agrichat/pkg/config"
)

// Client talks to the API gateway.
type Client struct {
	baseURL    string
	timeouts   config.ServerConfig
	httpClient *http.Client
}

// NewClient creates a gateway client. The underlying http.Client carries no
// global timeout; every call scopes its own deadline so the long-lived
// streaming request is not cut short.
func NewClient(cfg config.ServerConfig) *Client {
	return &Client{
		baseURL:    cfg.URL,
		timeouts:   cfg,
		httpClient: &http.Client{},
	}
}

// Chat sends one non-streaming chat request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	if err := c.postJSON(ctx, "/api/chat", c.timeouts.ChatTimeout, req, &out); err != nil {
		return ChatResponse{}, err
	}
	if out.failed() {
		return ChatResponse{}, &Error{Message: out.Error}
	}
	return out, nil
}

// postJSON sends a JSON body and decodes the JSON reply, translating non-2xx
// statuses into *Error with the gateway's error message when present.
func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readError extracts the gateway's error message from a failed response.
func readError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: "failed to read error response"}
	}

	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		return &Error{StatusCode: resp.StatusCode, Message: env.Error}
	}
	return &Error{StatusCode: resp.StatusCode, Message: string(body)}
}
