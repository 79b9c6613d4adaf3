// Package chat holds the conversation model: messages made of typed content
// blocks, the snapshot store that mutates them, and the render projection.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BlockType discriminates the content block union.
type BlockType string

// Content block types.
const (
	BlockText       BlockType = "text"
	BlockToolInput  BlockType = "tool_input"
	BlockToolResult BlockType = "tool_result"
)

// Tool names understood by the client.
const (
	ToolBash  = "bash"
	ToolEdit  = "str_replace_based_edit_tool"
	ToolSetup = "setup"
)

// SetupToolID is the fixed tool id used by the workspace preparation step.
const SetupToolID = "setup_tool_id"

// Block is one unit of message content. Type selects which fields are
// meaningful:
//   - BlockText: Text.
//   - BlockToolInput: ToolID, ToolName, Input.
//   - BlockToolResult: ToolID, Result, IsError.
//
// Blocks are values; stored blocks are never modified in place.
type Block struct {
	Type     BlockType
	Text     string
	ToolID   string
	ToolName string
	Input    ToolInput
	Result   string
	IsError  bool
}

// Text returns a text block.
func Text(s string) Block {
	return Block{Type: BlockText, Text: s}
}

// ToolCall returns a tool_input block. The tool name is derived from in.
func ToolCall(id string, in ToolInput) Block {
	return Block{Type: BlockToolInput, ToolID: id, ToolName: in.Tool(), Input: in}
}

// ToolResult returns a tool_result block.
func ToolResult(id, result string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolID: id, Result: result, IsError: isError}
}

type wireBlock struct {
	Type       BlockType       `json:"type"`
	Text       *string         `json:"text,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult *string         `json:"tool_result,omitempty"`
	IsError    *bool           `json:"is_error,omitempty"`
}

// MarshalJSON encodes the block in its wire shape.
func (b Block) MarshalJSON() ([]byte, error) {
	w := wireBlock{Type: b.Type}
	switch b.Type {
	case BlockText:
		w.Text = &b.Text
	case BlockToolInput:
		if b.Input == nil {
			return nil, fmt.Errorf("tool_input %q has no payload", b.ToolID)
		}
		raw, err := MarshalToolInput(b.Input)
		if err != nil {
			return nil, err
		}
		w.ToolID = b.ToolID
		w.ToolName = b.ToolName
		w.ToolInput = raw
	case BlockToolResult:
		w.ToolID = b.ToolID
		w.ToolResult = &b.Result
		w.IsError = &b.IsError
	default:
		return nil, fmt.Errorf("unknown block type %q", b.Type)
	}
	return json.Marshal(&w)
}

// UnmarshalJSON decodes and validates a wire block. Tool payloads are parsed
// into their typed shape according to tool_name.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Block{Type: w.Type, ToolID: w.ToolID, ToolName: w.ToolName}
	switch w.Type {
	case BlockText:
		if w.Text != nil {
			out.Text = *w.Text
		}
	case BlockToolInput:
		if w.ToolID == "" {
			return errors.New("tool_input without tool_id")
		}
		in, err := ParseToolInput(w.ToolName, w.ToolInput)
		if err != nil {
			return fmt.Errorf("tool_input %q: %w", w.ToolID, err)
		}
		out.Input = in
	case BlockToolResult:
		if w.ToolID == "" {
			return errors.New("tool_result without tool_id")
		}
		if w.ToolResult != nil {
			out.Result = *w.ToolResult
		}
		if w.IsError != nil {
			out.IsError = *w.IsError
		}
	default:
		return fmt.Errorf("unknown block type %q", w.Type)
	}
	*b = out
	return nil
}
