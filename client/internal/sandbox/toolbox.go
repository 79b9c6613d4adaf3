// Package sandbox executes agent tool calls against a workspace: a
// persistent bash session and file edit operations, either on the host or
// inside a container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/qualdev/fleet/client/internal/chat"
)

// DefaultTimeout bounds a single bash command.
const DefaultTimeout = 10 * time.Second

// RepoPath is where the task repository lives inside the sandbox.
const RepoPath = "/tmp/repo"

// FS is file access to the workspace.
type FS interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	// List returns the sorted entry names of a directory. isDir is false,
	// with a nil error, when path is a regular file.
	List(ctx context.Context, path string) (names []string, isDir bool, err error)
}

// Toolbox runs tool calls. Calls are executed one at a time, in order.
type Toolbox struct {
	FS      FS
	Shell   *Shell
	Timeout time.Duration

	mu sync.Mutex
}

// Execute runs each tool_input block and returns one tool_result per call.
// A failing call yields an error result; it never aborts the batch.
func (t *Toolbox) Execute(ctx context.Context, calls []chat.Block) []chat.Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chat.Block, 0, len(calls))
	for _, c := range calls {
		start := time.Now()
		res, err := t.run(ctx, c)
		if err != nil {
			slog.Warn("tool failed", "tool", c.ToolName, "id", c.ToolID, "err", err)
			out = append(out, chat.ToolResult(c.ToolID, "Error: "+err.Error(), true))
			continue
		}
		slog.Info("tool", "tool", c.ToolName, "id", c.ToolID, "d", time.Since(start).Round(time.Millisecond))
		out = append(out, chat.ToolResult(c.ToolID, res, false))
	}
	return out
}

// Close stops the shell.
func (t *Toolbox) Close() error {
	return t.Shell.Close()
}

func (t *Toolbox) run(ctx context.Context, c chat.Block) (string, error) {
	if c.Type != chat.BlockToolInput {
		return "", fmt.Errorf("not a tool call: %s", c.Type)
	}
	switch in := c.Input.(type) {
	case chat.BashInput:
		return t.bash(ctx, in)
	case chat.EditView:
		return t.view(ctx, in)
	case chat.EditStrReplace:
		return t.strReplace(ctx, in)
	case chat.EditCreate:
		if err := t.FS.WriteFile(ctx, in.Path, []byte(in.FileText)); err != nil {
			return "", err
		}
		return "Successfully created file " + in.Path, nil
	case chat.EditInsert:
		return t.insert(ctx, in)
	default:
		return "", fmt.Errorf("Unknown tool: %s", c.ToolName) //nolint:staticcheck // message is shown to the model as is.
	}
}

func (t *Toolbox) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

func (t *Toolbox) bash(ctx context.Context, in chat.BashInput) (string, error) {
	if in.Restart {
		t.Shell.Restart()
		return "Bash restarted", nil
	}
	out, err := t.Shell.Run(ctx, in.Command, t.timeout())
	switch {
	case errors.Is(err, errTimeout):
		out = fmt.Sprintf("Error: Command timed out after %d seconds", int(t.timeout().Seconds()))
	case err != nil && ctx.Err() != nil:
		return "", err
	case err != nil:
		out = strings.TrimSpace(out + "\nError: " + err.Error())
	}
	return fmt.Sprintf("\n```bash\n$ %s\n%s\n```\n", in.Command, out), nil
}

func (t *Toolbox) view(ctx context.Context, in chat.EditView) (string, error) {
	names, isDir, err := t.FS.List(ctx, in.Path)
	if err != nil {
		return "", err
	}
	if isDir {
		return strings.Join(names, "\n"), nil
	}
	data, err := t.FS.ReadFile(ctx, in.Path)
	if err != nil {
		return "", err
	}
	if in.ViewRange == nil {
		return string(data), nil
	}
	if len(in.ViewRange) != 2 {
		return "", errors.New("Invalid view_range, must be a list of two integers") //nolint:staticcheck // message is shown to the model as is.
	}
	lines := strings.Split(string(data), "\n")
	start := max(0, in.ViewRange[0]-1)
	end := len(lines)
	if in.ViewRange[1] != -1 {
		end = min(len(lines), in.ViewRange[1]-1)
	}
	if start >= end {
		return "", nil
	}
	return strings.Join(lines[start:end], "\n"), nil
}

func (t *Toolbox) strReplace(ctx context.Context, in chat.EditStrReplace) (string, error) {
	data, err := t.FS.ReadFile(ctx, in.Path)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch n := strings.Count(content, in.OldStr); {
	case in.OldStr == "" || n == 0:
		return "Text to replace not found in " + in.Path, nil
	case n > 1:
		return fmt.Sprintf("Found %d matches for replacement text. Please provide more context to make a unique match.", n), nil
	}
	content = strings.Replace(content, in.OldStr, in.NewStr, 1)
	if err := t.FS.WriteFile(ctx, in.Path, []byte(content)); err != nil {
		return "", err
	}
	return "Successfully replaced text in " + in.Path, nil
}

func (t *Toolbox) insert(ctx context.Context, in chat.EditInsert) (string, error) {
	data, err := t.FS.ReadFile(ctx, in.Path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	at := min(max(in.InsertLine, 0), len(lines))
	lines = slices.Insert(lines, at, in.InsertText)
	if err := t.FS.WriteFile(ctx, in.Path, []byte(strings.Join(lines, "\n"))); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully inserted text at line %d in %s", in.InsertLine, in.Path), nil
}
