package bus_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/task"
)

// TestBusPublishOrderProperty checks the Event Bus's core ordering
// invariant (spec.md §3): for any sequence of published events, every
// subscriber observes them in publish order, whether it subscribed
// before publishing started or only after the bus finished (a late
// subscriber replaying the backlog).
func TestBusPublishOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every subscriber observes published events in order", prop.ForAll(
		func(seq []int) bool {
			b := bus.New("t1")
			early := b.Subscribe()

			for _, n := range seq {
				b.Publish(task.Event{Kind: task.EventStatusUpdate, TaskID: "t1", Metadata: map[string]any{"n": n}})
			}
			b.Finished()

			late := b.Subscribe()

			return drainMatches(early, seq) && drainMatches(late, seq)
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func drainMatches(sub *bus.Subscription, want []int) bool {
	ctx := context.Background()
	for _, w := range want {
		ev, ok := sub.Next(ctx)
		if !ok {
			return false
		}
		n, _ := ev.Metadata["n"].(int)
		if n != w {
			return false
		}
	}
	if _, ok := sub.Next(ctx); ok {
		return false
	}
	return true
}
