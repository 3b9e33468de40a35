package executor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/aihandler"
	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/executor"
	"goa.design/a2aruntime/runtime/modelclient"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflow"
	"goa.design/a2aruntime/runtime/workflowhandler"
)

type fakeModel struct {
	events []modelclient.Event
}

func (f *fakeModel) Stream(ctx context.Context, req modelclient.Request) (<-chan modelclient.Event, func() error) {
	out := make(chan modelclient.Event, len(f.events))
	for _, e := range f.events {
		out <- e
	}
	close(out)
	return out, func() error { return nil }
}

func newExecutor(t *testing.T, model modelclient.StreamingModel) (*executor.Executor, *workflow.Runtime, *bus.Manager, *session.Manager) {
	t.Helper()
	rt := workflow.New(telemetry.Noop())
	busMgr := bus.NewManager()
	sessions := session.NewManager()
	store := taskstore.NewInMemory()
	wh := workflowhandler.New(rt, busMgr, sessions, store, telemetry.Noop())
	ai := aihandler.New(model, rt, wh, sessions, telemetry.Noop())
	return executor.New(rt, wh, ai, busMgr, sessions), rt, busMgr, sessions
}

// TestRouteFreshMessageOpensAITurn exercises rule (3): with no taskId and
// no paused task in the context, the executor opens a fresh AI turn.
func TestRouteFreshMessageOpensAITurn(t *testing.T) {
	model := &fakeModel{events: []modelclient.Event{
		{Kind: modelclient.EventTextDelta, Text: "hi"},
		{Kind: modelclient.EventTextEnd},
	}}
	ex, _, busMgr, sessions := newExecutor(t, model)
	sessions.CreateContextWithID("ctx1")

	res, err := ex.Route(context.Background(), executor.RequestContext{
		ContextID:   "ctx1",
		UserMessage: task.TaskMessage{Role: "user", Parts: []task.Part{task.TextPart("hello")}},
	}, nil)
	require.NoError(t, err)
	assert.False(t, res.Resumed)

	snap, ok := sessions.GetContext("ctx1")
	require.True(t, ok)
	require.Len(t, snap.TaskIDs, 1)

	b, ok := busMgr.GetByTaskID(snap.TaskIDs[0])
	require.True(t, ok)
	b.Finished()

	sub := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var sawCompleted bool
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			break
		}
		if ev.Kind == task.EventStatusUpdate && ev.Status.State == task.StateCompleted {
			sawCompleted = true
		}
		if sub.Drained() {
			break
		}
	}
	assert.True(t, sawCompleted)
}

// TestRouteExplicitTaskIDResumesPausedExecution exercises rule (1): an
// explicit taskId naming a paused execution always resumes, regardless of
// the message's other content.
func TestRouteExplicitTaskIDResumesPausedExecution(t *testing.T) {
	ex, rt, busMgr, sessions := newExecutor(t, &fakeModel{})
	require.NoError(t, rt.Register(workflow.Plugin{
		ID:   "approval",
		Name: "Approval",
		Execute: func(y *workflow.Yielder, params json.RawMessage) (json.RawMessage, error) {
			if _, err := y.Yield(workflow.WorkflowState{Kind: workflow.YieldInterrupted, Reason: workflow.ReasonInputRequired}); err != nil {
				return nil, err
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
	}))
	sessions.CreateContextWithID("ctx1")

	exec, err := rt.Dispatch(context.Background(), "approval", workflow.DispatchInput{ContextID: "ctx1"})
	require.NoError(t, err)
	_, ok := rt.WaitForFirstYield(exec.TaskID, time.Second)
	require.True(t, ok)

	busMgr.CreateOrGetByTaskID(exec.TaskID)

	res, err := ex.Route(context.Background(), executor.RequestContext{
		TaskID:      exec.TaskID,
		ContextID:   "ctx1",
		UserMessage: task.TaskMessage{Role: "user", Parts: []task.Part{task.TextPart("approved")}},
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Resumed)

	require.Eventually(t, func() bool {
		snap, ok := rt.GetTaskState(exec.TaskID)
		return ok && snap.State == task.StateCompleted
	}, time.Second, 5*time.Millisecond)
}
