// Package bus implements the per-task Event Bus, the process-wide Bus
// Manager, and the ordered Persistence Loop. The fan-out pattern is
// grounded on the teacher's synchronous hooks.Bus (snapshot-then-publish
// under a mutex) but generalized per the design note in spec.md §9: a
// shared ordered log plus a per-subscriber cursor, so late subscribers
// (tasks/resubscribe) replay the backlog instead of only seeing future
// events.
package bus

import (
	"context"
	"sync"

	"goa.design/a2aruntime/runtime/task"
)

// Bus is a per-task multi-subscriber event stream. Publish order equals
// subscription delivery order for every subscriber, including ones that
// subscribe after some events were already published.
type Bus struct {
	taskID string

	mu       sync.Mutex
	cond     *sync.Cond
	log      []task.Event
	finished bool
	closed   bool // all subscribers have drained past finished
}

// New constructs an empty Bus for taskID.
func New(taskID string) *Bus {
	b := &Bus{taskID: taskID}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// TaskID returns the task this bus carries events for.
func (b *Bus) TaskID() string { return b.taskID }

// Publish appends e to the ordered log and wakes any subscriber waiting
// for the next event. Publish never blocks on a subscriber: it is
// non-blocking from the caller's point of view, exactly as the data model
// in spec.md §3 requires.
func (b *Bus) Publish(e task.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		// spec.md §8: "after finished() is called, no further publish has
		// any observable effect."
		return
	}
	b.log = append(b.log, e)
	b.cond.Broadcast()
}

// Finished signals end-of-stream. Already-published events still drain to
// every subscriber and to the persistence loop; no further Publish has any
// effect afterward.
func (b *Bus) Finished() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = true
	b.cond.Broadcast()
}

// IsFinished reports whether Finished has been called.
func (b *Bus) IsFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Subscription is a cursor into a Bus's ordered log.
type Subscription struct {
	bus    *Bus
	cursor int
}

// Subscribe returns a Subscription starting at the current head of the
// log; Next replays any already-published events before blocking for new
// ones.
func (b *Bus) Subscribe() *Subscription {
	return &Subscription{bus: b, cursor: 0}
}

// Next blocks until the next event is available, the bus finishes and the
// backlog is drained, or ctx is canceled. ok is false once the bus has
// finished and every event has been delivered, or when ctx is canceled.
func (s *Subscription) Next(ctx context.Context) (ev task.Event, ok bool) {
	b := s.bus

	// sync.Cond has no ctx-aware wait, so one watcher goroutine per call
	// translates ctx cancellation into a Broadcast; stop is closed on every
	// return path so the watcher never outlives this call.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-stop:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for s.cursor >= len(b.log) && !b.finished {
		if ctx.Err() != nil {
			return task.Event{}, false
		}
		b.cond.Wait()
	}
	if ctx.Err() != nil {
		return task.Event{}, false
	}
	if s.cursor < len(b.log) {
		ev = b.log[s.cursor]
		s.cursor++
		return ev, true
	}
	return task.Event{}, false
}

// Drained reports whether the subscription has consumed every event of a
// finished bus.
func (s *Subscription) Drained() bool {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished && s.cursor >= len(b.log)
}
