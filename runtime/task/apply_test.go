package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/task"
)

func TestApplyArtifactAccumulation(t *testing.T) {
	tk := &task.Task{TaskID: "t1", ContextID: "c1"}

	tk.Apply(task.Event{
		Kind:     task.EventArtifactUpdate,
		TaskID:   "t1",
		Artifact: &task.Artifact{ArtifactID: "a1", Parts: []task.Part{task.TextPart("hello ")}},
	})
	tk.Apply(task.Event{
		Kind:     task.EventArtifactUpdate,
		TaskID:   "t1",
		Artifact: &task.Artifact{ArtifactID: "a1", Parts: []task.Part{task.TextPart("world")}},
		Append:   true,
		LastChunk: true,
	})

	require.Len(t, tk.Artifacts, 1)
	assert.Equal(t, "a1", tk.Artifacts[0].ArtifactID)
	assert.Equal(t, "hello ", tk.Artifacts[0].Parts[0].Text)
	assert.Equal(t, "world", tk.Artifacts[0].Parts[1].Text)
	assert.True(t, tk.Artifacts[0].Sealed())
}

func TestApplyArtifactSealedRejectsFurtherAppends(t *testing.T) {
	tk := &task.Task{TaskID: "t1"}
	tk.Apply(task.Event{
		Kind:      task.EventArtifactUpdate,
		Artifact:  &task.Artifact{ArtifactID: "a1", Parts: []task.Part{task.TextPart("x")}},
		LastChunk: true,
	})
	tk.Apply(task.Event{
		Kind:     task.EventArtifactUpdate,
		Artifact: &task.Artifact{ArtifactID: "a1", Parts: []task.Part{task.TextPart("y")}},
		Append:   true,
	})

	require.Len(t, tk.Artifacts, 1)
	require.Len(t, tk.Artifacts[0].Parts, 1)
	assert.Equal(t, "x", tk.Artifacts[0].Parts[0].Text)
}

func TestApplyStatusTerminalIsSticky(t *testing.T) {
	tk := &task.Task{TaskID: "t1"}
	tk.Apply(task.Event{
		Kind:   task.EventStatusUpdate,
		Status: &task.Status{State: task.StateCompleted},
		Final:  true,
	})
	tk.Apply(task.Event{
		Kind:   task.EventStatusUpdate,
		Status: &task.Status{State: task.StateWorking},
	})

	assert.True(t, tk.Final)
	assert.Equal(t, task.StateCompleted, tk.Status.State)
}
