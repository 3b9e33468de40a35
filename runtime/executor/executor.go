// Package executor implements the Agent Executor: the message-routing
// front door that decides, for each inbound user message, whether it
// resumes a paused workflow task or opens a fresh AI turn. Grounded on the
// request/response shape of the teacher's runtime/a2a/server.go handlers;
// spec.md §4.4 names no direct teacher analogue for the routing rules
// themselves, so this package is new, built in the same idiom.
package executor

import (
	"context"

	"goa.design/a2aruntime/runtime/aihandler"
	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/modelclient"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/workflow"
	"goa.design/a2aruntime/runtime/workflowhandler"
)

// RequestContext carries one inbound message's routing inputs, per
// spec.md §4.4.
type RequestContext struct {
	// TaskID is the explicit taskId the caller named, if any (rule 1).
	TaskID string
	// PendingPausedTaskID is the id of a task in this context the caller
	// has identified as currently paused, used by rule (2) when TaskID is
	// not itself set to a paused task. The transport resolves this by
	// scanning the context's task list for a paused state before calling
	// Route; Route does not do this scan itself so it stays agnostic of
	// how contexts enumerate their tasks.
	PendingPausedTaskID string
	ContextID           string
	UserMessage         task.TaskMessage
}

// Executor routes inbound messages to the Workflow Handler's resume path
// or the AI Handler's streaming-turn path.
type Executor struct {
	runtime   *workflow.Runtime
	workflows *workflowhandler.Handler
	ai        *aihandler.Handler
	buses     *bus.Manager
	sessions  *session.Manager
}

// New constructs an Executor.
func New(rt *workflow.Runtime, wh *workflowhandler.Handler, ai *aihandler.Handler, buses *bus.Manager, sessions *session.Manager) *Executor {
	return &Executor{runtime: rt, workflows: wh, ai: ai, buses: buses, sessions: sessions}
}

// hasDataPart reports whether msg carries at least one PartData part, the
// signal rule (2) of spec.md §4.4 checks for.
func hasDataPart(msg task.TaskMessage) bool {
	for _, p := range msg.Parts {
		if p.Kind == task.PartData {
			return true
		}
	}
	return false
}

// RouteResult reports which rule Route took. Resumed is true for rules
// (1)/(2); the transport must not call Finished on a resumed task's bus,
// since its lifecycle is owned by the Workflow Handler's monitor fiber.
// For a fresh turn (rule 3), the transport created the bus for this call
// and is the one that must finish it once StreamingTurn returns.
type RouteResult struct {
	TaskID  string
	Resumed bool
}

// Route applies spec.md §4.4's three ordered routing rules and dispatches
// to the matching handler. aiTools is the AI-provided tool set (workflow-
// dispatch tools are unioned in by the AI Handler itself).
func (e *Executor) Route(ctx context.Context, req RequestContext, aiTools []modelclient.Tool) (RouteResult, error) {
	if req.TaskID != "" {
		if snap, ok := e.runtime.GetTaskState(req.TaskID); ok && snap.State.Paused() {
			return RouteResult{TaskID: req.TaskID, Resumed: true}, e.resume(ctx, req.TaskID, req)
		}
	}
	if req.PendingPausedTaskID != "" && hasDataPart(req.UserMessage) {
		if snap, ok := e.runtime.GetTaskState(req.PendingPausedTaskID); ok && snap.State.Paused() {
			return RouteResult{TaskID: req.PendingPausedTaskID, Resumed: true}, e.resume(ctx, req.PendingPausedTaskID, req)
		}
	}

	// Rule (3): a fresh AI turn, regardless of any other task's pause
	// state in this context. New messages without an explicit taskId
	// never resume a paused workflow.
	taskID := req.TaskID
	if taskID == "" {
		taskID = e.runtime.NewTaskID()
	}
	parentBus := e.buses.CreateOrGetByTaskID(taskID)
	e.sessions.AddTask(req.ContextID, taskID)
	e.ai.StreamingTurn(ctx, aihandler.TurnInput{
		TaskID:      taskID,
		ContextID:   req.ContextID,
		ParentBus:   parentBus,
		UserMessage: req.UserMessage,
	}, aiTools)
	return RouteResult{TaskID: taskID, Resumed: false}, nil
}

func (e *Executor) resume(ctx context.Context, taskID string, req RequestContext) error {
	childBus, ok := e.buses.GetByTaskID(taskID)
	if !ok {
		childBus = e.buses.CreateOrGetByTaskID(taskID)
	}
	var input []byte
	for _, p := range req.UserMessage.Parts {
		if p.Kind == task.PartData {
			input = p.Data
			break
		}
	}
	return e.workflows.Resume(ctx, taskID, req.ContextID, childBus, input)
}
