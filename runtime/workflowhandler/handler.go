// Package workflowhandler mediates between the Workflow Runtime and the
// Event Bus system and owns the child-task lifecycle end to end: dispatch,
// resume, cancellation, and the monitor fiber that retires a finished
// child bus. Grounded on the teacher's runtime/agent/runtime child-task
// bookkeeping (child_tracker.go) and its workflow_loop.go budget-tracking
// idiom, generalized to the dispatch/resume/cancel algorithm spec.md §4.6
// names.
package workflowhandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskerr"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflow"
)

// monitorGracePeriod bounds how long the monitor fiber waits for the
// persistence loop to drain after a bus finishes, per spec.md §5.
const monitorGracePeriod = 100 * time.Millisecond

// Handler dispatches workflow plugins as child tasks, wires their
// executions to per-task buses, and tears the child down on completion.
type Handler struct {
	runtime  *workflow.Runtime
	buses    *bus.Manager
	sessions *session.Manager
	store    taskstore.Store
	tel      telemetry.Bundle

	mu            sync.Mutex
	contextTasks  map[string][]string // local contextId -> taskIds this handler dispatched
	pendingCancel map[string]bool

	limiter *DispatchLimiter
}

// New constructs a Handler wired to the shared runtime, bus manager,
// session manager, and task store. Exactly one bus.Manager instance must
// be shared across every handler in the process (spec.md §4.2, §9).
func New(rt *workflow.Runtime, busManager *bus.Manager, sessions *session.Manager, store taskstore.Store, tel telemetry.Bundle) *Handler {
	return &Handler{
		runtime:       rt,
		buses:         busManager,
		sessions:      sessions,
		store:         store,
		tel:           tel,
		contextTasks:  make(map[string][]string),
		pendingCancel: make(map[string]bool),
		limiter:       NewDispatchLimiter(defaultDispatchesPerMinute),
	}
}

// DispatchResult is what Dispatch synchronously returns to the tool-call
// site: the child taskId plus the parts of a dispatch-response yield, if
// the plugin produced one within its dispatchResponseTimeout.
type DispatchResult struct {
	TaskID string
	Parts  []task.Part
}

// Dispatch runs the thirteen-step dispatch algorithm from spec.md §4.6
// against parentBus, the bus of the task whose tool-call requested this
// workflow.
func (h *Handler) Dispatch(ctx context.Context, parentContextID string, parentBus *bus.Bus, pluginID string, parameters []byte) (DispatchResult, error) {
	canon := workflow.Canonical(pluginID)
	plugin, ok := h.runtime.GetPlugin(canon)
	if !ok {
		return DispatchResult{}, taskerr.New(taskerr.KindUnknownPlugin, "unknown plugin "+pluginID)
	}

	if err := h.limiter.Wait(ctx, canon); err != nil {
		return DispatchResult{}, err
	}

	childContextID := h.sessions.CreateContext()

	exec, err := h.runtime.Dispatch(ctx, canon, workflow.DispatchInput{
		ContextID:  childContextID,
		Parameters: parameters,
	})
	if err != nil {
		return DispatchResult{}, err
	}
	taskID := exec.TaskID

	childBus := h.buses.CreateOrGetByTaskID(taskID)
	loop := bus.NewPersistenceLoop(childBus, h.store, h.tel)
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)

	var firstEventResolved bool
	var bufMu sync.Mutex
	var buffered []task.Event
	var sawStatus bool

	publishChild := func(e task.Event) {
		bufMu.Lock()
		if e.Kind == task.EventStatusUpdate {
			sawStatus = true
		}
		if firstEventResolved {
			bufMu.Unlock()
			childBus.Publish(e)
			return
		}
		buffered = append(buffered, e)
		bufMu.Unlock()
	}

	unsubscribe := exec.OnEvent(func(ev workflow.ExecutionEvent) {
		publishChild(executionEventToTaskEvent(taskID, childContextID, ev))
	})

	childBus.Publish(task.Event{
		Kind:      task.EventTask,
		TaskID:    taskID,
		ContextID: childContextID,
		Status:    &task.Status{State: task.StateSubmitted, Timestamp: now()},
	})

	h.mu.Lock()
	h.contextTasks[parentContextID] = append(h.contextTasks[parentContextID], taskID)
	h.mu.Unlock()
	h.sessions.AddTask(childContextID, taskID)

	if err := loop.WaitFirstEventCommitted(ctx); err != nil {
		unsubscribe()
		cancelLoop()
		return DispatchResult{}, err
	}

	bufMu.Lock()
	firstEventResolved = true
	toFlush := buffered
	buffered = nil
	statusAlreadySeen := sawStatus
	bufMu.Unlock()
	for _, e := range toFlush {
		childBus.Publish(e)
	}

	if !statusAlreadySeen {
		childBus.Publish(task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: childContextID,
			Status:    &task.Status{State: task.StateWorking, Timestamp: now()},
		})
	}

	parentBus.Publish(task.Event{
		Kind:      task.EventStatusUpdate,
		TaskID:    parentBus.TaskID(),
		ContextID: parentContextID,
		Status: &task.Status{
			State: task.StateWorking,
			Message: &task.TaskMessage{
				Role:             "assistant",
				Parts:            []task.Part{task.TextPart(fmt.Sprintf("Dispatching workflow: %s — %s", plugin.Name, plugin.Description))},
				ReferenceTaskIDs: []string{taskID},
				Metadata: map[string]any{
					"referencedWorkflow": map[string]any{
						"workflowName": plugin.Name,
						"description":  plugin.Description,
						"pluginId":     canon,
					},
				},
			},
			Timestamp: now(),
		},
	})

	go h.monitor(taskID, childContextID, parentContextID, childBus, exec, loop, cancelLoop, unsubscribe)

	result := DispatchResult{TaskID: taskID}
	if st, ok := h.runtime.WaitForFirstYield(taskID, plugin.DispatchResponseWindow()); ok && st.Kind == workflow.YieldDispatchResponse {
		result.Parts = st.Parts
	}
	return result, nil
}

// monitor races execution completion and retires the child bus and its
// context association once the workflow finishes, per spec.md §4.6 step
// 12.
func (h *Handler) monitor(taskID, childContextID, parentContextID string, childBus *bus.Bus, exec *workflow.Execution, loop *bus.PersistenceLoop, cancelLoop context.CancelFunc, unsubscribe func()) {
	defer cancelLoop()
	defer unsubscribe()

	ctx := context.Background()
	_ = h.runtime.WaitForCompletion(ctx, taskID)

	state, _, execErr, _ := exec.State()
	if execErr != nil && h.tel.Logger != nil {
		h.tel.Logger.Error(ctx, "workflow execution finished with error", "taskId", taskID, "error", execErr)
	}
	childBus.Publish(task.Event{
		Kind:      task.EventStatusUpdate,
		TaskID:    taskID,
		ContextID: childContextID,
		Status: &task.Status{
			State:     state,
			Timestamp: now(),
		},
		Final: true,
	})
	childBus.Finished()

	select {
	case <-loop.Done():
	case <-time.After(monitorGracePeriod):
	}

	h.buses.CleanupByTaskID(taskID)
	h.mu.Lock()
	tasks := h.contextTasks[parentContextID]
	for i, id := range tasks {
		if id == taskID {
			h.contextTasks[parentContextID] = append(tasks[:i], tasks[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	h.sessions.RemoveTask(childContextID, taskID)
}

// Resume validates input against the paused child's resume schema and
// advances it, per spec.md §4.6's resume algorithm. publishBus is the bus
// the caller wants the "keeping the paused state" rejection message
// published on -- normally the child bus itself.
func (h *Handler) Resume(ctx context.Context, taskID string, contextID string, publishBus *bus.Bus, input []byte) error {
	res, err := h.runtime.ResumeWorkflow(ctx, taskID, input)
	if err != nil {
		publishBus.Publish(task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status: &task.Status{
				State: task.StateFailed,
				Message: &task.TaskMessage{
					Role:  "assistant",
					Parts: []task.Part{task.TextPart("resume failed: " + err.Error())},
				},
				Timestamp: now(),
			},
		})
		return err
	}
	if !res.Valid {
		snap, ok := h.runtime.GetTaskState(taskID)
		state := task.StateInputRequired
		if ok {
			state = snap.State
		}
		publishBus.Publish(task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status: &task.Status{
				State: state,
				Message: &task.TaskMessage{
					Role:  "assistant",
					Parts: []task.Part{task.TextPart("invalid resume input: " + res.ValidationErrors)},
				},
				Timestamp: now(),
			},
		})
		return nil
	}
	publishBus.Publish(task.Event{
		Kind:      task.EventStatusUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Status:    &task.Status{State: task.StateWorking, Timestamp: now()},
		Final:     false,
	})
	return nil
}

// Cancel aborts taskID if active, otherwise records a pending cancel so
// it takes effect when the execution starts. Idempotent.
func (h *Handler) Cancel(taskID string) {
	h.runtime.CancelExecution(taskID)
}

func executionEventToTaskEvent(taskID, contextID string, ev workflow.ExecutionEvent) task.Event {
	switch ev.Kind {
	case workflow.EventArtifact:
		return task.Event{
			Kind:      task.EventArtifactUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Artifact:  ev.State.Artifact,
			Append:    ev.State.Append,
			LastChunk: ev.State.LastChunk,
			Metadata:  ev.State.Metadata,
		}
	case workflow.EventUpdate:
		return task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status: &task.Status{
				State:   task.StateWorking,
				Message: textMessage(ev.State.Message),
				Timestamp: now(),
			},
		}
	case workflow.EventPause:
		state := task.StateInputRequired
		if ev.PauseInfo != nil && ev.PauseInfo.Reason == workflow.ReasonAuthRequired {
			state = task.StateAuthRequired
		}
		return task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status: &task.Status{
				State:     state,
				Message:   pauseMessage(ev.PauseInfo),
				Timestamp: now(),
			},
		}
	case workflow.EventError:
		return task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status: &task.Status{
				State:     task.StateFailed,
				Message:   errorMessage(ev.Error),
				Timestamp: now(),
			},
			Final: true,
		}
	case workflow.EventReject:
		return task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status: &task.Status{
				State:     task.StateRejected,
				Message:   textMessage(ev.State.RejectReason),
				Timestamp: now(),
			},
			Final: true,
		}
	case workflow.EventComplete:
		state := ev.TerminalState
		if state == "" {
			state = task.StateCompleted
		}
		return task.Event{
			Kind:      task.EventStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status:    &task.Status{State: state, Timestamp: now()},
			Final:     true,
		}
	}
	return task.Event{Kind: task.EventStatusUpdate, TaskID: taskID, ContextID: contextID}
}

func textMessage(s string) *task.TaskMessage {
	if s == "" {
		return nil
	}
	return &task.TaskMessage{Role: "assistant", Parts: []task.Part{task.TextPart(s)}}
}

func pauseMessage(p *workflow.PauseInfo) *task.TaskMessage {
	if p == nil {
		return nil
	}
	return &task.TaskMessage{Role: "assistant", Parts: []task.Part{task.TextPart(p.Message)}}
}

func errorMessage(err error) *task.TaskMessage {
	if err == nil {
		return nil
	}
	return &task.TaskMessage{Role: "assistant", Parts: []task.Part{task.TextPart(err.Error())}}
}

func now() time.Time { return time.Now() }
