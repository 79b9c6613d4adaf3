// Exported request and response types for the task API.
package dto

import (
	"errors"
	"time"

	"github.com/qualdev/fleet/client/internal/chat"
)

// Validatable is implemented by request types that check their own fields.
type Validatable interface {
	Validate() error
}

// EmptyReq is used by endpoints without a request body.
type EmptyReq struct{}

// Validate is a no-op.
func (*EmptyReq) Validate() error { return nil }

// TaskStatus is the coarse lifecycle of a task.
type TaskStatus string

// Task statuses.
const (
	TaskStatusRunning TaskStatus = "running"
	TaskStatusIdle    TaskStatus = "idle"
	TaskStatusDone    TaskStatus = "done"
)

// Task describes one agent task.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ProjectID   string     `json:"project_id,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskReq addresses a task by its path parameter.
type TaskReq struct {
	TaskID string `json:"-" path:"task_id"`
}

// Validate checks the task id.
func (r *TaskReq) Validate() error {
	if r.TaskID == "" {
		return BadRequest("task_id is required")
	}
	return nil
}

// CreateTaskReq is the request body for POST /task.
type CreateTaskReq struct {
	Description   string `json:"description"`
	ProjectID     string `json:"project_id,omitempty"`
	GHAccessToken string `json:"gh_access_token,omitempty"`
}

// Validate checks the description.
func (r *CreateTaskReq) Validate() error {
	if r.Description == "" {
		return BadRequest("description is required")
	}
	return nil
}

// CreateTaskResp returns the id of the new task.
type CreateTaskResp struct {
	TaskID string `json:"task_id"`
}

// MessageCreateReq is the request body for POST /task/{task_id}/messages.
type MessageCreateReq struct {
	TaskID string `json:"-" path:"task_id"`
	Text   string `json:"text"`
}

// Validate checks the message text.
func (r *MessageCreateReq) Validate() error {
	if r.Text == "" {
		return BadRequest("text is required")
	}
	return nil
}

// StatusResp is a generic acknowledgement.
type StatusResp struct {
	Status string `json:"status"`
}

// ToolCallsReq is the request body for POST /task/{task_id}/tool-calls: the
// tool_input blocks to execute in the task sandbox.
type ToolCallsReq struct {
	TaskID string       `json:"-" path:"task_id"`
	Calls  []chat.Block `json:"calls"`
}

// Validate checks that only tool_input blocks are submitted.
func (r *ToolCallsReq) Validate() error {
	if len(r.Calls) == 0 {
		return BadRequest("calls is required")
	}
	for i := range r.Calls {
		if r.Calls[i].Type != chat.BlockToolInput {
			return BadRequest("only tool_input blocks can be executed").WithDetail("index", i)
		}
	}
	return nil
}

// ToolCallsResp holds one tool_result per submitted call, in order.
type ToolCallsResp struct {
	Results []chat.Block `json:"results"`
}

// RealtimeSessionResp carries the ephemeral secret used to open the voice
// channel.
type RealtimeSessionResp struct {
	ClientSecret ClientSecret `json:"client_secret"`
	Model        string       `json:"model,omitempty"`
}

// ClientSecret is an ephemeral credential.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

var errEmptySecret = errors.New("empty client secret")

// Validate checks that a secret was issued.
func (r *RealtimeSessionResp) Validate() error {
	if r.ClientSecret.Value == "" {
		return errEmptySecret
	}
	return nil
}
