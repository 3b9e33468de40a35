package aihandler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/aihandler"
	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/modelclient"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflow"
	"goa.design/a2aruntime/runtime/workflowhandler"
)

// fakeModel is a scripted modelclient.StreamingModel used to drive the
// Stream Processor deterministically, per SPEC_FULL.md's "the AI Handler
// is tested against a fake, never against a live provider" boundary rule.
type fakeModel struct {
	events []modelclient.Event
	err    error
}

func (f *fakeModel) Stream(ctx context.Context, req modelclient.Request) (<-chan modelclient.Event, func() error) {
	out := make(chan modelclient.Event, len(f.events))
	for _, e := range f.events {
		out <- e
	}
	close(out)
	return out, func() error { return f.err }
}

func TestStreamingTurnPublishesTextArtifactsAndCompletes(t *testing.T) {
	model := &fakeModel{events: []modelclient.Event{
		{Kind: modelclient.EventTextDelta, Text: "Hello"},
		{Kind: modelclient.EventTextDelta, Text: ", world"},
		{Kind: modelclient.EventTextEnd},
	}}

	rt := workflow.New(telemetry.Noop())
	busMgr := bus.NewManager()
	sessions := session.NewManager()
	store := taskstore.NewInMemory()
	wh := workflowhandler.New(rt, busMgr, sessions, store, telemetry.Noop())
	h := aihandler.New(model, rt, wh, sessions, telemetry.Noop())

	parentBus := busMgr.CreateOrGetByTaskID("parent-task")
	sub := parentBus.Subscribe()

	sessions.CreateContextWithID("ctx1")
	h.StreamingTurn(context.Background(), aihandler.TurnInput{
		TaskID:      "parent-task",
		ContextID:   "ctx1",
		ParentBus:   parentBus,
		UserMessage: task.TaskMessage{Role: "user", Parts: []task.Part{task.TextPart("hi")}},
	}, nil)
	parentBus.Finished()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sawCompleted bool
	var artifactCount int
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			break
		}
		if ev.Kind == task.EventArtifactUpdate {
			artifactCount++
		}
		if ev.Kind == task.EventStatusUpdate && ev.Status.State == task.StateCompleted {
			sawCompleted = true
		}
		if sub.Drained() {
			break
		}
	}
	assert.True(t, sawCompleted)
	assert.GreaterOrEqual(t, artifactCount, 1)

	history := sessions.GetHistory("ctx1")
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
	require.Len(t, history[1].Content, 1)
	assert.Equal(t, "Hello, world", history[1].Content[0].Text)
}

func TestStreamingTurnFailurePublishesFailedStatus(t *testing.T) {
	model := &fakeModel{err: assertError("boom")}

	rt := workflow.New(telemetry.Noop())
	busMgr := bus.NewManager()
	sessions := session.NewManager()
	store := taskstore.NewInMemory()
	wh := workflowhandler.New(rt, busMgr, sessions, store, telemetry.Noop())
	h := aihandler.New(model, rt, wh, sessions, telemetry.Noop())

	parentBus := busMgr.CreateOrGetByTaskID("parent-task")
	sub := parentBus.Subscribe()
	sessions.CreateContextWithID("ctx1")

	h.StreamingTurn(context.Background(), aihandler.TurnInput{
		TaskID:      "parent-task",
		ContextID:   "ctx1",
		ParentBus:   parentBus,
		UserMessage: task.TaskMessage{Role: "user", Parts: []task.Part{task.TextPart("hi")}},
	}, nil)
	parentBus.Finished()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, task.EventStatusUpdate, ev.Kind)
	assert.Equal(t, task.StateFailed, ev.Status.State)
	assert.True(t, ev.Final)
}

func TestStreamingTurnDispatchesWorkflowToolCall(t *testing.T) {
	rt := workflow.New(telemetry.Noop())
	require.NoError(t, rt.Register(workflow.Plugin{
		ID:   "greeter",
		Name: "Greeter",
		Execute: func(y *workflow.Yielder, params json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	}))

	model := &fakeModel{events: []modelclient.Event{
		{Kind: modelclient.EventToolCall, ToolCallIndex: 0, ToolCallID: "call1", ToolName: "dispatch_workflow_greeter", ToolInput: json.RawMessage(`{}`)},
		{Kind: modelclient.EventTextEnd},
	}}

	busMgr := bus.NewManager()
	sessions := session.NewManager()
	store := taskstore.NewInMemory()
	wh := workflowhandler.New(rt, busMgr, sessions, store, telemetry.Noop())
	h := aihandler.New(model, rt, wh, sessions, telemetry.Noop())

	parentBus := busMgr.CreateOrGetByTaskID("parent-task")
	sub := parentBus.Subscribe()
	sessions.CreateContextWithID("ctx1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.StreamingTurn(ctx, aihandler.TurnInput{
		TaskID:      "parent-task",
		ContextID:   "ctx1",
		ParentBus:   parentBus,
		UserMessage: task.TaskMessage{Role: "user", Parts: []task.Part{task.TextPart("please dispatch")}},
	}, nil)
	parentBus.Finished()

	var sawAnnouncement bool
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			break
		}
		if ev.Kind == task.EventStatusUpdate && ev.Status.Message != nil && len(ev.Status.Message.ReferenceTaskIDs) > 0 {
			sawAnnouncement = true
		}
		if sub.Drained() {
			break
		}
	}
	assert.True(t, sawAnnouncement)
}

type assertError string

func (e assertError) Error() string { return string(e) }
