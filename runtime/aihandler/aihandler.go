// Package aihandler implements the AI Handler and its Stream Processor:
// opening a streaming model call over the current conversation history
// and available tool set, translating the incoming event stream into task
// events on the parent bus, and forwarding workflow-dispatch tool-calls to
// the Workflow Handler. Grounded on the teacher's
// runtime/agent/stream/{stream,subscriber}.go Sink/Event pattern and the
// buffered-artifact-per-lane idiom visible in the oasis and opencode
// streaming loops in other_examples.
package aihandler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/modelclient"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflow"
	"goa.design/a2aruntime/runtime/workflowhandler"
)

// dispatchToolPrefix names the tool-call prefix the Stream Processor
// recognizes as a workflow dispatch rather than an AI-provided tool.
const dispatchToolPrefix = "dispatch_workflow_"

// resultPreviewLimit bounds the diagnostic logging of large tool outputs,
// adapted from the teacher's clampPreview helper in
// runtime/agent/stream/subscriber.go -- it never affects the artifact
// parts actually published to the bus, only log line length.
const resultPreviewLimit = 512

// Handler opens streaming model turns and projects them onto task buses.
type Handler struct {
	model    modelclient.StreamingModel
	runtime  *workflow.Runtime
	workflows *workflowhandler.Handler
	sessions *session.Manager
	tel      telemetry.Bundle
}

// New constructs a Handler.
func New(model modelclient.StreamingModel, rt *workflow.Runtime, wh *workflowhandler.Handler, sessions *session.Manager, tel telemetry.Bundle) *Handler {
	return &Handler{model: model, runtime: rt, workflows: wh, sessions: sessions, tel: tel}
}

// TurnInput carries everything StreamingTurn needs for one AI turn.
type TurnInput struct {
	TaskID       string
	ContextID    string
	ParentBus    *bus.Bus
	UserMessage  task.TaskMessage
}

// StreamingTurn opens a streaming model call over the context's history
// plus userMessage, and the AI-provided tools union the currently
// registered workflow-dispatch tools, and drives the Stream Processor
// until the model's response completes. It implements spec.md §4.5 end to
// end, including the end-of-stream history append and the failure path.
func (h *Handler) StreamingTurn(ctx context.Context, in TurnInput, aiTools []modelclient.Tool) {
	history := toModelHistory(h.sessions.GetHistory(in.ContextID))
	history = append(history, toModelMessage(in.UserMessage))

	tools := append(append([]modelclient.Tool(nil), aiTools...), dispatchTools(h.runtime)...)

	events, streamErr := h.model.Stream(ctx, modelclient.Request{History: history, Tools: tools})

	sp := newStreamProcessor(in.TaskID, in.ContextID, in.ParentBus, h.workflows, h.tel)
	for ev := range events {
		sp.handle(ctx, ev)
	}

	if err := streamErr(); err != nil {
		sp.flushAll()
		in.ParentBus.Publish(task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    in.TaskID,
			ContextID: in.ContextID,
			Status: &task.Status{
				State: task.StateFailed,
				Message: &task.TaskMessage{
					Role:  "assistant",
					Parts: []task.Part{task.TextPart("model stream failed: " + err.Error())},
				},
				Timestamp: time.Now(),
			},
			Final: true,
		})
		return
	}

	sp.flushAll()
	in.ParentBus.Publish(task.Event{
		Kind:      task.EventStatusUpdate,
		TaskID:    in.TaskID,
		ContextID: in.ContextID,
		Status:    &task.Status{State: task.StateCompleted, Timestamp: time.Now()},
		Final:     true,
	})

	h.sessions.AddToHistory(in.ContextID, session.HistoryEntry{Role: in.UserMessage.Role, Content: in.UserMessage.Parts})
	h.sessions.AddToHistory(in.ContextID, session.HistoryEntry{Role: "assistant", Content: sp.reconstructedAssistantParts()})
}

func dispatchTools(rt *workflow.Runtime) []modelclient.Tool {
	descs := rt.GetAvailableTools()
	out := make([]modelclient.Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, modelclient.Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

func toModelHistory(entries []session.HistoryEntry) []modelclient.Message {
	out := make([]modelclient.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, modelclient.Message{Role: e.Role, Content: toModelParts(e.Content)})
	}
	return out
}

func toModelMessage(m task.TaskMessage) modelclient.Message {
	return modelclient.Message{Role: m.Role, Content: toModelParts(m.Parts)}
}

func toModelParts(parts []task.Part) []modelclient.Part {
	out := make([]modelclient.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case task.PartText:
			out = append(out, modelclient.Part{Kind: "text", Text: p.Text})
		case task.PartToolResult:
			out = append(out, modelclient.Part{Kind: "tool-result", ToolCallID: p.ToolCallID, ToolName: p.ToolName, Output: p.Output})
		}
	}
	return out
}

func isDispatchTool(name string) (string, bool) {
	if strings.HasPrefix(name, dispatchToolPrefix) {
		return strings.TrimPrefix(name, dispatchToolPrefix), true
	}
	return "", false
}

func truncatePreview(s string) string {
	if len(s) <= resultPreviewLimit {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes truncated)", s[:resultPreviewLimit], len(s)-resultPreviewLimit)
}
