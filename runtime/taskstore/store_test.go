package taskstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskstore"
)

func TestInMemoryLoadMiss(t *testing.T) {
	s := taskstore.NewInMemory()
	got, ok, err := s.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestInMemorySaveLoadRoundTrip(t *testing.T) {
	s := taskstore.NewInMemory()
	ctx := context.Background()
	want := &task.Task{TaskID: "t1", ContextID: "c1", Status: task.Status{State: task.StateWorking}}

	require.NoError(t, s.Save(ctx, want))
	got, ok, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.TaskID, got.TaskID)
	assert.Equal(t, want.Status.State, got.Status.State)
}

func TestInMemoryLoadReturnsACopy(t *testing.T) {
	s := taskstore.NewInMemory()
	ctx := context.Background()
	orig := &task.Task{TaskID: "t1", Artifacts: []task.Artifact{{ArtifactID: "a1"}}}
	require.NoError(t, s.Save(ctx, orig))

	got, _, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	got.Artifacts[0].ArtifactID = "mutated"

	got2, _, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got2.Artifacts[0].ArtifactID)
}
