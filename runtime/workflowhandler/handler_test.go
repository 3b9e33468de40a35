package workflowhandler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflow"
	"goa.design/a2aruntime/runtime/workflowhandler"
)

func newHandler(t *testing.T) (*workflowhandler.Handler, *workflow.Runtime, *bus.Manager) {
	t.Helper()
	rt := workflow.New(telemetry.Noop())
	busMgr := bus.NewManager()
	sessions := session.NewManager()
	store := taskstore.NewInMemory()
	return workflowhandler.New(rt, busMgr, sessions, store, telemetry.Noop()), rt, busMgr
}

func instantPlugin() workflow.Plugin {
	return workflow.Plugin{
		ID:   "greeter",
		Name: "Greeter",
		Execute: func(y *workflow.Yielder, params json.RawMessage) (json.RawMessage, error) {
			if _, err := y.Yield(workflow.WorkflowState{
				Kind:  workflow.YieldDispatchResponse,
				Parts: []task.Part{task.TextPart("hello")},
			}); err != nil {
				return nil, err
			}
			return json.RawMessage(`{"done":true}`), nil
		},
	}
}

func TestDispatchAnnouncesOnParentBusAndPublishesOnChildBus(t *testing.T) {
	h, rt, busMgr := newHandler(t)
	require.NoError(t, rt.Register(instantPlugin()))

	parentBus := busMgr.CreateOrGetByTaskID("parent-task")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Dispatch(ctx, "parent-ctx", parentBus, "greeter", nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.TaskID)
	require.Len(t, res.Parts, 1)
	assert.Equal(t, "hello", res.Parts[0].Text)

	sub := parentBus.Subscribe()
	ev, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, task.EventStatusUpdate, ev.Kind)
	require.NotNil(t, ev.Status.Message)
	assert.Equal(t, []string{res.TaskID}, ev.Status.Message.ReferenceTaskIDs)

	childBus, ok := busMgr.GetByTaskID(res.TaskID)
	require.True(t, ok)
	childSub := childBus.Subscribe()
	first, ok := childSub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, task.EventTask, first.Kind)
	assert.Equal(t, res.TaskID, first.TaskID)
}

func TestDispatchUnknownPluginFails(t *testing.T) {
	h, _, busMgr := newHandler(t)
	parentBus := busMgr.CreateOrGetByTaskID("parent-task")
	_, err := h.Dispatch(context.Background(), "parent-ctx", parentBus, "does-not-exist", nil)
	assert.Error(t, err)
}

func pausingPlugin() workflow.Plugin {
	schema := json.RawMessage(`{"type":"object","required":["answer"]}`)
	return workflow.Plugin{
		ID:   "pauser",
		Name: "Pauser",
		Execute: func(y *workflow.Yielder, params json.RawMessage) (json.RawMessage, error) {
			input, err := y.Yield(workflow.WorkflowState{
				Kind:        workflow.YieldInterrupted,
				Reason:      workflow.ReasonInputRequired,
				InputSchema: schema,
			})
			if err != nil {
				return nil, err
			}
			return input, nil
		},
	}
}

func TestResumeAdvancesPausedChild(t *testing.T) {
	h, rt, busMgr := newHandler(t)
	require.NoError(t, rt.Register(pausingPlugin()))

	parentBus := busMgr.CreateOrGetByTaskID("parent-task")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := h.Dispatch(ctx, "parent-ctx", parentBus, "pauser", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := rt.GetTaskState(res.TaskID)
		return ok && snap.State == task.StateInputRequired
	}, time.Second, 5*time.Millisecond)

	childBus, ok := busMgr.GetByTaskID(res.TaskID)
	require.True(t, ok)

	err = h.Resume(ctx, res.TaskID, "child-ctx", childBus, json.RawMessage(`{"answer":"42"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := rt.GetTaskState(res.TaskID)
		return ok && snap.State == task.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func blockingPlugin(started chan struct{}) workflow.Plugin {
	return workflow.Plugin{
		ID:   "blocker",
		Name: "Blocker",
		Execute: func(y *workflow.Yielder, params json.RawMessage) (json.RawMessage, error) {
			close(started)
			<-y.Context().Done()
			return nil, y.Context().Err()
		},
	}
}

func TestCancelStopsActiveExecution(t *testing.T) {
	h, rt, busMgr := newHandler(t)
	started := make(chan struct{})
	require.NoError(t, rt.Register(blockingPlugin(started)))

	parentBus := busMgr.CreateOrGetByTaskID("parent-task")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := h.Dispatch(ctx, "parent-ctx", parentBus, "blocker", nil)
	require.NoError(t, err)
	<-started

	h.Cancel(res.TaskID)

	require.Eventually(t, func() bool {
		snap, ok := rt.GetTaskState(res.TaskID)
		return ok && snap.State == task.StateCanceled
	}, time.Second, 5*time.Millisecond)
}
