// Typed tool payloads carried by tool_input blocks.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToolInput is the closed set of tool payload shapes.
type ToolInput interface {
	// Tool returns the tool name the payload belongs to.
	Tool() string
	isToolInput()
}

// SetupInput is the status label of the workspace preparation step.
type SetupInput string

// BashInput runs a shell command.
type BashInput struct {
	Command     string `json:"command,omitempty"`
	Restart     bool   `json:"restart,omitempty"`
	Description string `json:"description,omitempty"`
}

// EditCommand selects the file edit sub-operation.
type EditCommand string

// File edit sub-operations.
const (
	EditCmdView       EditCommand = "view"
	EditCmdStrReplace EditCommand = "str_replace"
	EditCmdCreate     EditCommand = "create"
	EditCmdInsert     EditCommand = "insert"
)

// EditView reads a file or lists a directory. ViewRange is [start, end] with
// 1-based lines; end -1 means end of file.
type EditView struct {
	Path      string `json:"path"`
	ViewRange []int  `json:"view_range,omitempty"`
}

// EditStrReplace replaces a unique occurrence of OldStr.
type EditStrReplace struct {
	Path   string `json:"path"`
	OldStr string `json:"old_str"`
	NewStr string `json:"new_str"`
}

// EditCreate writes a new file.
type EditCreate struct {
	Path     string `json:"path"`
	FileText string `json:"file_text"`
}

// EditInsert inserts text after line InsertLine.
type EditInsert struct {
	Path       string `json:"path"`
	InsertLine int    `json:"insert_line"`
	InsertText string `json:"insert_text"`
}

// UnknownInput keeps the raw payload of a tool this client does not model.
type UnknownInput struct {
	Name string
	Raw  json.RawMessage
}

func (SetupInput) Tool() string     { return ToolSetup }
func (BashInput) Tool() string      { return ToolBash }
func (EditView) Tool() string       { return ToolEdit }
func (EditStrReplace) Tool() string { return ToolEdit }
func (EditCreate) Tool() string     { return ToolEdit }
func (EditInsert) Tool() string     { return ToolEdit }
func (u UnknownInput) Tool() string { return u.Name }

func (SetupInput) isToolInput()     {}
func (BashInput) isToolInput()      {}
func (EditView) isToolInput()       {}
func (EditStrReplace) isToolInput() {}
func (EditCreate) isToolInput()     {}
func (EditInsert) isToolInput()     {}
func (UnknownInput) isToolInput()   {}

// Summary returns a one-line human description of the call.
func Summary(in ToolInput) string {
	switch v := in.(type) {
	case SetupInput:
		return string(v)
	case BashInput:
		if v.Restart {
			return "restart shell"
		}
		if v.Description != "" {
			return v.Description
		}
		return "$ " + firstLine(v.Command)
	case EditView:
		if len(v.ViewRange) == 2 {
			return fmt.Sprintf("view %s:%d-%d", v.Path, v.ViewRange[0], v.ViewRange[1])
		}
		return "view " + v.Path
	case EditStrReplace:
		return "edit " + v.Path
	case EditCreate:
		return "create " + v.Path
	case EditInsert:
		return fmt.Sprintf("insert %s:%d", v.Path, v.InsertLine)
	case UnknownInput:
		return v.Name
	default:
		return ""
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// ParseToolInput decodes a raw tool payload according to the tool name. Tools
// not modeled here decode to UnknownInput.
func ParseToolInput(name string, raw json.RawMessage) (ToolInput, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing tool_input")
	}
	switch name {
	case ToolSetup:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("setup payload: %w", err)
		}
		return SetupInput(s), nil
	case ToolBash:
		var b BashInput
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("bash payload: %w", err)
		}
		if b.Command == "" && !b.Restart {
			return nil, errors.New("bash payload: command or restart required")
		}
		return b, nil
	case ToolEdit:
		return parseEdit(raw)
	case "":
		return nil, errors.New("missing tool_name")
	default:
		return UnknownInput{Name: name, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func parseEdit(raw json.RawMessage) (ToolInput, error) {
	var head struct {
		Command EditCommand `json:"command"`
		Path    string      `json:"path"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("edit payload: %w", err)
	}
	if head.Path == "" {
		return nil, errors.New("edit payload: path required")
	}
	var out ToolInput
	var err error
	switch head.Command {
	case EditCmdView:
		var v EditView
		err = json.Unmarshal(raw, &v)
		if err == nil && v.ViewRange != nil && len(v.ViewRange) != 2 {
			err = errors.New("view_range must have two elements")
		}
		out = v
	case EditCmdStrReplace:
		var v EditStrReplace
		err = json.Unmarshal(raw, &v)
		out = v
	case EditCmdCreate:
		var v EditCreate
		err = json.Unmarshal(raw, &v)
		out = v
	case EditCmdInsert:
		var v EditInsert
		err = json.Unmarshal(raw, &v)
		out = v
	default:
		return nil, fmt.Errorf("edit payload: unknown command %q", head.Command)
	}
	if err != nil {
		return nil, fmt.Errorf("edit payload: %w", err)
	}
	return out, nil
}

// MarshalToolInput encodes a payload in its wire shape. File edit payloads
// carry their sub-operation in the "command" field.
func MarshalToolInput(in ToolInput) (json.RawMessage, error) {
	switch v := in.(type) {
	case SetupInput:
		return json.Marshal(string(v))
	case BashInput:
		return json.Marshal(&v)
	case EditView:
		return json.Marshal(&struct {
			Command EditCommand `json:"command"`
			EditView
		}{EditCmdView, v})
	case EditStrReplace:
		return json.Marshal(&struct {
			Command EditCommand `json:"command"`
			EditStrReplace
		}{EditCmdStrReplace, v})
	case EditCreate:
		return json.Marshal(&struct {
			Command EditCommand `json:"command"`
			EditCreate
		}{EditCmdCreate, v})
	case EditInsert:
		return json.Marshal(&struct {
			Command EditCommand `json:"command"`
			EditInsert
		}{EditCmdInsert, v})
	case UnknownInput:
		return v.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported tool input %T", in)
	}
}
