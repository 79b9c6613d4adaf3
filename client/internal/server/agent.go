// Scripted agent flows. They stand in for the model loop and produce the same
// event sequences a real agent turn does.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/ksid"
	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/sandbox"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

// setupLabels are the progress labels of workspace preparation.
var setupLabels = []string{"Creating sandbox", "Cloning repository", "Installing dependencies"}

// pause waits for the configured pacing. It returns false when ctx is done.
func (s *Server) pause(ctx context.Context) bool {
	if s.opts.Delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.opts.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// setupFlow reports workspace preparation through the setup tool. The tool
// call is updated in place for every label.
func (s *Server) setupFlow(ctx context.Context, e *taskEntry) bool {
	var last chat.Block
	for _, label := range setupLabels {
		if !s.pause(ctx) {
			return false
		}
		last = chat.ToolCall(chat.SetupToolID, chat.SetupInput(label))
		e.queue.push(toolInputEvent(last))
	}
	res := chat.ToolResult(chat.SetupToolID, "Workspace ready at "+sandbox.RepoPath, false)
	e.queue.push(toolResultEvent(res))
	e.persist(
		chat.Message{ID: chat.NewID(), Role: chat.RoleAssistant, Content: []chat.Block{last}},
		chat.Message{ID: chat.NewID(), Role: chat.RoleUser, Content: []chat.Block{res}},
	)
	return true
}

// agentTurn answers prompt: it announces a bash call, runs it in the sandbox
// and comments on the result. A prompt of the form "$ cmd" runs cmd,
// otherwise the workspace is listed.
func (s *Server) agentTurn(ctx context.Context, e *taskEntry, prompt string) {
	command, intro := "ls -1A", "Let me take a look at the workspace."
	if c, ok := strings.CutPrefix(strings.TrimSpace(prompt), "$ "); ok && c != "" {
		command, intro = c, "Running that for you."
	}
	e.queue.push(dto.TaskEvent{Type: dto.EventMessageStart, MessageID: uuid.NewString()})
	if !s.streamText(ctx, e, intro) {
		return
	}

	toolID := "toolu_" + ksid.NewID().String()
	partial := chat.ToolCall(toolID, chat.BashInput{Command: command})
	e.queue.push(toolInputEvent(partial))
	if !s.pause(ctx) {
		return
	}
	call := chat.ToolCall(toolID, chat.BashInput{Command: command, Description: "Run " + strings.Fields(command)[0]})
	e.queue.push(toolInputEvent(call))

	res := chat.ToolResult(toolID, "Error: no sandbox configured", true)
	if s.opts.Tools != nil {
		res = s.opts.Tools.Execute(ctx, []chat.Block{call})[0]
	}
	if ctx.Err() != nil {
		return
	}
	e.queue.push(toolResultEvent(res))

	outro := "The command finished, the output is above."
	if res.IsError {
		outro = "The command failed."
	}
	if !s.streamText(ctx, e, outro) {
		return
	}
	e.queue.push(dto.TaskEvent{Type: dto.EventMessageStop})
	e.persist(
		chat.Message{ID: chat.NewID(), Role: chat.RoleAssistant, Content: []chat.Block{chat.Text(intro), call}},
		chat.Message{ID: chat.NewID(), Role: chat.RoleUser, Content: []chat.Block{res}},
		chat.Message{ID: chat.NewID(), Role: chat.RoleAssistant, Content: []chat.Block{chat.Text(outro)}},
	)
	slog.Info("turn done", "task", e.task.ID, "tool", toolID, "is_error", res.IsError)
}

// streamText emits text as word sized deltas.
func (s *Server) streamText(ctx context.Context, e *taskEntry, text string) bool {
	for _, w := range strings.SplitAfter(text, " ") {
		if !s.pause(ctx) {
			return false
		}
		e.queue.push(dto.TaskEvent{Type: dto.EventTextDelta, Text: w})
	}
	return true
}

func toolInputEvent(b chat.Block) dto.TaskEvent {
	raw, err := chat.MarshalToolInput(b.Input)
	if err != nil {
		// Inputs are built here from typed values.
		panic(err)
	}
	return dto.TaskEvent{
		Type:      dto.EventToolInput,
		ToolID:    b.ToolID,
		ToolName:  b.ToolName,
		ToolInput: json.RawMessage(raw),
	}
}

func toolResultEvent(b chat.Block) dto.TaskEvent {
	return dto.TaskEvent{Type: dto.EventToolResult, ToolID: b.ToolID, ToolResult: b.Result, IsError: b.IsError}
}
