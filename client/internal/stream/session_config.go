package stream

import (
	"encoding/json"
	"fmt"

	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/sandbox"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

const instructions = `You are a helpful programmer. Your job is to help the user with their task by using the tools provided to you.
You are working in a lightweight sandbox environment, so feel free to run any commands you need to without asking.
The sandbox is a Debian based Linux environment with git installed. The user's repository is cloned in the sandbox and is available at %[1]s.
Your starting working directory is %[1]s. You are in a new git branch.
The user cannot see tool results by default, so make sure to include any necessary information in your response.

<tools>
Always try to make multiple tool calls at once to avoid round trips to the sandbox server.
All commands timeout after 10 seconds.
Always let the user know you are about to call a tool before doing so.
</tools>
`

const bashSchema = `{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "The bash command to execute"},
    "restart": {"type": "boolean", "description": "Whether to restart the bash session"}
  },
  "required": ["command"]
}`

const editSchema = `{
  "type": "object",
  "properties": {
    "input": {
      "type": "object",
      "oneOf": [
        {
          "properties": {
            "command": {"type": "string", "enum": ["view"]},
            "path": {"type": "string", "description": "The file path to view"},
            "view_range": {"type": "array", "items": {"type": "number"}, "description": "Optional range of lines to view [start, end]"}
          },
          "required": ["command", "path"]
        },
        {
          "properties": {
            "command": {"type": "string", "enum": ["str_replace"]},
            "path": {"type": "string", "description": "The file path to edit"},
            "old_str": {"type": "string", "description": "The string to replace"},
            "new_str": {"type": "string", "description": "The replacement string"}
          },
          "required": ["command", "path", "old_str", "new_str"]
        },
        {
          "properties": {
            "command": {"type": "string", "enum": ["create"]},
            "path": {"type": "string", "description": "The file path to create"},
            "file_text": {"type": "string", "description": "The content of the file to create"}
          },
          "required": ["command", "path", "file_text"]
        },
        {
          "properties": {
            "command": {"type": "string", "enum": ["insert"]},
            "path": {"type": "string", "description": "The file path to edit"},
            "insert_line": {"type": "number", "description": "The line number to insert at"},
            "insert_text": {"type": "string", "description": "The text to insert"}
          },
          "required": ["command", "path", "insert_line", "insert_text"]
        }
      ]
    }
  },
  "required": ["input"]
}`

// DefaultSession returns the voice session configuration: the sandbox tools
// and the agent instructions.
func DefaultSession(voice string) dto.RealtimeSession {
	return dto.RealtimeSession{
		Instructions: fmt.Sprintf(instructions, sandbox.RepoPath),
		Voice:        voice,
		ToolChoice:   "auto",
		Tools: []dto.RealtimeTool{
			{Type: "function", Name: chat.ToolBash, Description: "Execute bash commands in the sandbox environment", Parameters: json.RawMessage(bashSchema)},
			{Type: "function", Name: chat.ToolEdit, Description: "Edit files using string replacement, create new files, or view file contents", Parameters: json.RawMessage(editSchema)},
		},
	}
}
