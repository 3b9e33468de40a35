package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	b := bus.New("t1")
	sub := b.Subscribe()

	b.Publish(task.Event{Kind: task.EventTask, TaskID: "t1"})
	b.Publish(task.Event{Kind: task.EventStatusUpdate, TaskID: "t1"})
	b.Finished()

	ctx := context.Background()
	ev1, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, task.EventTask, ev1.Kind)

	ev2, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, task.EventStatusUpdate, ev2.Kind)

	_, ok = sub.Next(ctx)
	assert.False(t, ok)
}

func TestBusLateSubscriberSeesBacklog(t *testing.T) {
	b := bus.New("t1")
	b.Publish(task.Event{Kind: task.EventTask, TaskID: "t1"})
	b.Finished()

	sub := b.Subscribe()
	ev, ok := sub.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, task.EventTask, ev.Kind)
}

func TestBusPublishAfterFinishedIsNoop(t *testing.T) {
	b := bus.New("t1")
	b.Finished()
	b.Publish(task.Event{Kind: task.EventTask, TaskID: "t1"})

	sub := b.Subscribe()
	_, ok := sub.Next(context.Background())
	assert.False(t, ok)
}

func TestBusNextRespectsContextCancellation(t *testing.T) {
	b := bus.New("t1")
	sub := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}

func TestManagerIsIdempotent(t *testing.T) {
	m := bus.NewManager()
	b1 := m.CreateOrGetByTaskID("t1")
	b2 := m.CreateOrGetByTaskID("t1")
	assert.Same(t, b1, b2)

	m.CleanupByTaskID("t1")
	_, ok := m.GetByTaskID("t1")
	assert.False(t, ok)
}

func TestPersistenceLoopFirstEventGating(t *testing.T) {
	b := bus.New("t1")
	store := taskstore.NewInMemory()
	loop := bus.NewPersistenceLoop(b, store, telemetry.Noop())

	go loop.Run(context.Background())

	gateDone := make(chan error, 1)
	go func() {
		gateDone <- loop.WaitFirstEventCommitted(context.Background())
	}()

	select {
	case <-gateDone:
		t.Fatal("gate resolved before any event was published")
	case <-time.After(20 * time.Millisecond):
	}

	b.Publish(task.Event{Kind: task.EventTask, TaskID: "t1", ContextID: "c1", Status: &task.Status{State: task.StateSubmitted}})

	require.NoError(t, <-gateDone)

	b.Finished()
	<-loop.Done()

	stored, ok, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.StateSubmitted, stored.Status.State)
}
