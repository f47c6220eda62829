// Package agentforge provides a small Go client for the AgentForge HTTP API.
package agentforge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to an AgentForge server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient creates a client for the given base URL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// QueryResult mirrors the server's invocation result payload.
type QueryResult struct {
	Err     bool   `json:"err"`
	Tool    string `json:"tool"`
	Origin  string `json:"origin,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// Task mirrors the server's task representation.
type Task struct {
	ID          string      `json:"id"`
	Query       string      `json:"query"`
	Status      string      `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LastError   string      `json:"last_error,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
	CreatedAt   int64       `json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
}

// TaskResult is the stored outcome of a completed task.
type TaskResult struct {
	Tool    string `json:"tool"`
	Origin  string `json:"origin,omitempty"`
	Failed  bool   `json:"failed"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Query runs a synchronous query.
func (c *Client) Query(ctx context.Context, query string) (*QueryResult, error) {
	var result QueryResult
	err := c.do(ctx, http.MethodPost, "/api/v1/queries", map[string]string{"query": query}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitTask enqueues a query for asynchronous processing.
func (c *Client) SubmitTask(ctx context.Context, query string) (*Task, error) {
	var task Task
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks", map[string]string{"query": query}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches a task by ID.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns the most recent tasks.
func (c *Client) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	path := "/api/v1/tasks"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

// WaitTask polls a task until it reaches a terminal status or ctx is done.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status == "succeeded" || task.Status == "failed" {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tools lists every registered tool.
func (c *Client) Tools(ctx context.Context) ([]map[string]any, error) {
	var body struct {
		Tools []map[string]any `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tools", nil, &body); err != nil {
		return nil, err
	}
	return body.Tools, nil
}

// Stats returns the raw server statistics document.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var body map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// Reset removes all generated tools on the server.
func (c *Client) Reset(ctx context.Context) (removed int, err error) {
	var body struct {
		RemovedTools int `json:"removed_tools"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/reset", nil, &body); err != nil {
		return 0, err
	}
	return body.RemovedTools, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var decoded struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &decoded) == nil && decoded.Message != "" {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
