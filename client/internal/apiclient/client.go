// Package apiclient is the HTTP client of the task API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

// compressThreshold is the request body size above which bodies are sent
// zstd compressed.
const compressThreshold = 1024

// Client talks to the task API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for the server at baseURL. token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No global timeout: event streams stay open for the whole turn.
		http: &http.Client{},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       dto.ErrorCode
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CreateTask creates a task and returns its id.
func (c *Client) CreateTask(ctx context.Context, req *dto.CreateTaskReq) (string, error) {
	var resp dto.CreateTaskResp
	if err := c.doJSON(ctx, dto.Lookup(dto.RouteCreateTask), "", req, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// Task fetches task metadata.
func (c *Client) Task(ctx context.Context, taskID string) (*dto.Task, error) {
	var t dto.Task
	if err := c.doJSON(ctx, dto.Lookup(dto.RouteGetTask), taskID, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Messages fetches the persisted history of a task.
func (c *Client) Messages(ctx context.Context, taskID string) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := c.doJSON(ctx, dto.Lookup(dto.RouteListMessages), taskID, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a user message, which starts a new agent turn.
func (c *Client) SendMessage(ctx context.Context, taskID, text string) error {
	var resp dto.StatusResp
	return c.doJSON(ctx, dto.Lookup(dto.RouteSendMessage), taskID, &dto.MessageCreateReq{Text: text}, &resp)
}

// ExecuteToolCalls runs tool_input blocks in the task sandbox.
func (c *Client) ExecuteToolCalls(ctx context.Context, taskID string, calls []chat.Block) ([]chat.Block, error) {
	var resp dto.ToolCallsResp
	if err := c.doJSON(ctx, dto.Lookup(dto.RouteToolCalls), taskID, &dto.ToolCallsReq{Calls: calls}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(calls) {
		return nil, fmt.Errorf("got %d results for %d calls", len(resp.Results), len(calls))
	}
	return resp.Results, nil
}

// RealtimeSecret fetches an ephemeral voice session secret.
func (c *Client) RealtimeSecret(ctx context.Context) (string, error) {
	var resp dto.RealtimeSessionResp
	if err := c.doJSON(ctx, dto.Lookup(dto.RouteRealtimeSession), "", nil, &resp); err != nil {
		return "", err
	}
	if err := resp.Validate(); err != nil {
		return "", err
	}
	return resp.ClientSecret.Value, nil
}

// OpenEvents starts the event stream of a task. The caller must close the
// returned body.
func (c *Client) OpenEvents(ctx context.Context, taskID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, dto.Lookup(dto.RouteTaskEvents), taskID, nil, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, route dto.Route, taskID string, in, out any) error {
	body, err := c.do(ctx, route, taskID, in, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", route.Name, err)
	}
	return nil
}

// do sends the request and returns the decoded response body.
func (c *Client) do(ctx context.Context, route dto.Route, taskID string, in any, accept string) (io.ReadCloser, error) {
	var body io.Reader
	encoding := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		if len(data) > compressThreshold {
			if data, err = compress(data); err != nil {
				return nil, err
			}
			encoding = "zstd"
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, route.Method, c.baseURL+route.Expand(taskID), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", route.Name, err)
	}
	slog.Debug("api", "r", route.Name, "s", resp.StatusCode, "d", time.Since(start).Round(time.Millisecond))
	rc, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer func() { _ = rc.Close() }()
		return nil, readError(resp.StatusCode, rc)
	}
	return rc, nil
}

func readError(status int, r io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var er dto.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return &APIError{StatusCode: status, Code: er.Error.Code, Message: er.Error.Message, Details: er.Error.Details}
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
