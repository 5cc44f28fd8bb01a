package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskwright/taskwright/internal/types"
)

// Client is the typed HTTP client the CLI uses to talk to a running
// `tw serve` instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client against baseURL, e.g. "http://127.0.0.1:4317".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("client: %s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("client: %s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}

// State fetches the scheduler state snapshot.
func (c *Client) State(ctx context.Context) (*types.SchedulerState, error) {
	var state types.SchedulerState
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Submit enqueues the bound solution of an issue.
func (c *Client) Submit(ctx context.Context, issueID string) ([]*types.QueueItem, error) {
	var resp struct {
		Items []*types.QueueItem `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "/api/submit", submitRequest{IssueID: issueID}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Start starts the scheduler.
func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/start", struct{}{}, nil)
}

// Pause pauses dispatch.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/pause", struct{}{}, nil)
}

// Stop stops the scheduler, draining in-flight items.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", struct{}{}, nil)
}

// Reset forces the scheduler to idle.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/reset", struct{}{}, nil)
}

// Retry resets failed (and optionally stuck) items.
func (c *Client) Retry(ctx context.Context, issueID string, force bool) (int, error) {
	var resp struct {
		Retried int `json:"retried"`
	}
	err := c.do(ctx, http.MethodPost, "/api/retry", retryRequest{IssueID: issueID, Force: force}, &resp)
	return resp.Retried, err
}

// Config fetches the current scheduler config.
func (c *Client) Config(ctx context.Context) (*types.SchedulerConfig, error) {
	var cfg types.SchedulerConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig applies a new scheduler config.
func (c *Client) UpdateConfig(ctx context.Context, cfg types.SchedulerConfig) error {
	return c.do(ctx, http.MethodPut, "/api/config", cfg, nil)
}
