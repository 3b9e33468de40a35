// Package session implements the Context / Session Manager: the
// contextId -> {tasks[], history[]} mapping that groups multiple task
// turns under one conversation scope. Grounded on the teacher's
// runtime/agent/session package, simplified to the fields spec.md §4.3
// names -- the teacher's RunMeta/Store split (built for a durable,
// Temporal-backed session store) collapses here to one in-process map,
// since contexts are explicitly process-local and survive only for the
// runtime's lifetime (spec.md §4.3).
package session

import (
	"sync"

	"github.com/google/uuid"

	"goa.design/a2aruntime/runtime/task"
)

// HistoryEntry is one turn in a context's conversation history.
type HistoryEntry struct {
	Role    string
	Content []task.Part
}

// Snapshot is a read-only view of one context's state.
type Snapshot struct {
	ContextID string
	TaskIDs   []string
	History   []HistoryEntry
}

type contextState struct {
	id      string
	taskIDs []string
	history []HistoryEntry
}

// Manager owns every context's task list and history. A Context is owned
// exclusively by the Manager; Tasks reference it by id and never back-own
// it (spec.md §3 "Lifecycles and ownership").
type Manager struct {
	mu       sync.Mutex
	contexts map[string]*contextState
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{contexts: make(map[string]*contextState)}
}

// CreateContext creates a fresh empty context with a generated id.
func (m *Manager) CreateContext() string {
	return m.CreateContextWithID(uuid.NewString())
}

// CreateContextWithID creates a fresh empty context under the caller's
// chosen id. If the id already exists, it is left untouched and returned
// as-is (creation is idempotent, matching "created lazily on first
// message").
func (m *Manager) CreateContextWithID(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[id]; !ok {
		m.contexts[id] = &contextState{id: id}
	}
	return id
}

// GetContext returns a snapshot of the context, or false if it does not
// exist.
func (m *Manager) GetContext(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(c), true
}

func snapshotOf(c *contextState) Snapshot {
	return Snapshot{
		ContextID: c.id,
		TaskIDs:   append([]string(nil), c.taskIDs...),
		History:   append([]HistoryEntry(nil), c.history...),
	}
}

// AddTask associates taskID with contextID, creating the context on
// demand. Idempotent: re-adding the same taskID does not duplicate the
// entry, and insertion order is preserved.
func (m *Manager) AddTask(contextID, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[contextID]
	if !ok {
		c = &contextState{id: contextID}
		m.contexts[contextID] = c
	}
	for _, existing := range c.taskIDs {
		if existing == taskID {
			return
		}
	}
	c.taskIDs = append(c.taskIDs, taskID)
}

// RemoveTask removes taskID's association with contextID, used when a
// child workflow task's monitor fiber tears down after completion.
func (m *Manager) RemoveTask(contextID, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[contextID]
	if !ok {
		return
	}
	for i, existing := range c.taskIDs {
		if existing == taskID {
			c.taskIDs = append(c.taskIDs[:i], c.taskIDs[i+1:]...)
			return
		}
	}
}

// GetHistory returns the ordered conversation history for contextID, or
// nil if the context does not exist.
func (m *Manager) GetHistory(contextID string) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[contextID]
	if !ok {
		return nil
	}
	return append([]HistoryEntry(nil), c.history...)
}

// AddToHistory appends entry to contextID's history, creating the context
// on demand. Per spec.md §4.3, history is appended only on completed AI
// turns (user+assistant pairs) -- never on workflow resume; callers in the
// aihandler package are the only callers of this method for that reason.
func (m *Manager) AddToHistory(contextID string, entry HistoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[contextID]
	if !ok {
		c = &contextState{id: contextID}
		m.contexts[contextID] = c
	}
	c.history = append(c.history, entry)
}
