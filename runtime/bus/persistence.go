package bus

import (
	"context"
	"sync"

	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
)

// PersistenceLoop is the exactly-one persistence consumer each bus gets.
// It reads events in publish order, applies them to the task's
// accumulated state, and commits the result to the Store after every
// event. It also implements first-event gating: WaitFirstEventCommitted
// blocks until the bus's first (task-creation) event has been durably
// saved, the readiness signal the Workflow Handler needs before making a
// child task externally visible.
type PersistenceLoop struct {
	bus   *Bus
	store taskstore.Store
	tel   telemetry.Bundle

	readyOnce sync.Once
	readyCh   chan struct{}
	doneCh    chan struct{}
}

// NewPersistenceLoop constructs a loop for bus, committing into store.
func NewPersistenceLoop(b *Bus, store taskstore.Store, tel telemetry.Bundle) *PersistenceLoop {
	return &PersistenceLoop{
		bus:     b,
		store:   store,
		tel:     tel,
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run consumes the bus until it finishes and the backlog drains, applying
// and committing each event in order. It is intended to run in its own
// goroutine; Run returns once drained. Callers that need to know the loop
// is still running use Done.
func (p *PersistenceLoop) Run(ctx context.Context) {
	defer close(p.doneCh)
	sub := p.bus.Subscribe()
	var current task.Task
	first := true
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		current.Apply(ev)
		if err := p.store.Save(ctx, &current); err != nil {
			p.tel.Logger.Error(ctx, "persistence loop save failed", "taskId", p.bus.TaskID(), "error", err)
		}
		if first {
			first = false
			p.readyOnce.Do(func() { close(p.readyCh) })
		}
		if sub.Drained() {
			return
		}
	}
}

// WaitFirstEventCommitted blocks until the first event on this bus has
// been committed to the store, or ctx is canceled.
func (p *PersistenceLoop) WaitFirstEventCommitted(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the loop has fully drained.
func (p *PersistenceLoop) Done() <-chan struct{} { return p.doneCh }
