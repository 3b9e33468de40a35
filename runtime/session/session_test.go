package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
)

func TestCreateContextIsLazyAndIdempotent(t *testing.T) {
	m := session.NewManager()
	id := m.CreateContextWithID("ctx1")
	assert.Equal(t, "ctx1", id)

	snap, ok := m.GetContext("ctx1")
	require.True(t, ok)
	assert.Empty(t, snap.TaskIDs)

	assert.Equal(t, "ctx1", m.CreateContextWithID("ctx1"))
}

func TestAddTaskPreservesOrderAndIsIdempotent(t *testing.T) {
	m := session.NewManager()
	m.AddTask("ctx1", "t1")
	m.AddTask("ctx1", "t2")
	m.AddTask("ctx1", "t1")

	snap, ok := m.GetContext("ctx1")
	require.True(t, ok)
	assert.Equal(t, []string{"t1", "t2"}, snap.TaskIDs)
}

func TestHistoryAlternatesStartingWithUser(t *testing.T) {
	m := session.NewManager()
	m.AddToHistory("ctx1", session.HistoryEntry{Role: "user", Content: []task.Part{task.TextPart("hi")}})
	m.AddToHistory("ctx1", session.HistoryEntry{Role: "assistant", Content: []task.Part{task.TextPart("hello")}})

	h := m.GetHistory("ctx1")
	require.Len(t, h, 2)
	assert.Equal(t, "user", h[0].Role)
	assert.Equal(t, "assistant", h[1].Role)
}

func TestGetHistoryUnknownContextReturnsNil(t *testing.T) {
	m := session.NewManager()
	assert.Nil(t, m.GetHistory("missing"))
}
