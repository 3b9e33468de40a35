package bus

import "sync"

// Manager is the process-wide taskId -> Bus mapping. Exactly one Manager
// instance is shared across the Workflow Handler, AI Handler, and
// transport layer; spec.md §4.2 and §9 call a second instance "the
// hardest bug in the source" because it would silently break
// tasks/resubscribe for child tasks -- a child bus discoverable only
// through one Manager is invisible through another.
type Manager struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{buses: make(map[string]*Bus)}
}

// CreateOrGetByTaskID returns the existing bus for taskID, or creates and
// registers a new one. Idempotent.
func (m *Manager) CreateOrGetByTaskID(taskID string) *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buses[taskID]; ok {
		return b
	}
	b := New(taskID)
	m.buses[taskID] = b
	return b
}

// GetByTaskID looks up an existing bus without creating one.
func (m *Manager) GetByTaskID(taskID string) (*Bus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[taskID]
	return b, ok
}

// CleanupByTaskID removes the bus entry. Callers must only call this after
// the persistence loop and all subscribers have observed Finished and
// drained -- removing it earlier would make a still-streaming task
// unresolvable by a concurrent tasks/resubscribe.
func (m *Manager) CleanupByTaskID(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buses, taskID)
}
