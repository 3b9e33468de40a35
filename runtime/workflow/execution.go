package workflow

import (
	"context"
	"encoding/json"
	"sync"

	"goa.design/a2aruntime/runtime/task"
)

// YieldKind identifies the kind of a WorkflowState value yielded by a
// plugin's execution body.
type YieldKind string

// Recognized yield kinds, per spec.md §4.1.
const (
	YieldDispatchResponse YieldKind = "dispatch-response"
	YieldStatusUpdate     YieldKind = "status-update"
	YieldArtifact         YieldKind = "artifact"
	YieldInterrupted      YieldKind = "interrupted"
	YieldReject           YieldKind = "reject"
)

// InterruptReason distinguishes the two ways an execution can suspend.
type InterruptReason string

// Recognized interrupt reasons.
const (
	ReasonInputRequired InterruptReason = "input-required"
	ReasonAuthRequired  InterruptReason = "auth-required"
)

// WorkflowState is one value yielded by a plugin's execution body.
type WorkflowState struct {
	Kind YieldKind

	// YieldDispatchResponse
	Parts []task.Part

	// YieldStatusUpdate / YieldArtifact
	Message  string
	Artifact *task.Artifact
	Append   bool
	LastChunk bool
	Metadata map[string]any

	// YieldInterrupted
	Reason      InterruptReason
	InputSchema json.RawMessage

	// YieldReject
	RejectReason string
}

// PauseInfo mirrors an Interrupted yield's suspension data, surfaced on
// Execution snapshots.
type PauseInfo struct {
	Reason      InterruptReason
	Message     string
	InputSchema json.RawMessage
}

// Yielder is the handle a plugin's ExecuteFunc uses to publish
// WorkflowState values and, for Interrupted yields, to receive the
// validated resume input. It is the plugin-side end of the two
// bounded, single-consumer channels described in spec.md §9: outbound
// (yields, consumed only by the execution's driver goroutine) and inbound
// (resume values, consumed only by the plugin goroutine).
type Yielder struct {
	ctx      context.Context
	outbound chan WorkflowState
	inbound  chan resumeMsg
}

type resumeMsg struct {
	input    json.RawMessage
	canceled bool
}

// Context returns the Yielder's execution context, canceled when the
// execution is canceled or the runtime shuts down.
func (y *Yielder) Context() context.Context { return y.ctx }

// Yield publishes state. For an Interrupted yield it blocks until
// resumeWorkflow succeeds (returning the validated input) or the
// execution is canceled. For every other kind it returns immediately
// once the driver goroutine has accepted the value off the channel.
func (y *Yielder) Yield(state WorkflowState) (json.RawMessage, error) {
	select {
	case y.outbound <- state:
	case <-y.ctx.Done():
		return nil, y.ctx.Err()
	}
	if state.Kind != YieldInterrupted {
		return nil, nil
	}
	select {
	case msg := <-y.inbound:
		if msg.canceled {
			return nil, context.Canceled
		}
		return msg.input, nil
	case <-y.ctx.Done():
		return nil, y.ctx.Err()
	}
}

// Listener receives ExecutionEvent values derived from an execution's
// yields. Registered via Execution.OnEvent (spec.md §4.6 step 6: "Register
// event listeners on the execution").
type Listener func(ExecutionEvent)

// ExecutionEventKind classifies an ExecutionEvent for listener dispatch.
type ExecutionEventKind string

// Recognized listener event kinds.
const (
	EventArtifact ExecutionEventKind = "artifact"
	EventUpdate   ExecutionEventKind = "update"
	EventPause    ExecutionEventKind = "pause"
	EventError    ExecutionEventKind = "error"
	EventReject   ExecutionEventKind = "reject"
	EventComplete ExecutionEventKind = "complete"
)

// ExecutionEvent is delivered to listeners registered on an Execution.
type ExecutionEvent struct {
	Kind      ExecutionEventKind
	State     WorkflowState
	Error     error
	Result    json.RawMessage
	PauseInfo *PauseInfo

	// TerminalState is set only when Kind is EventError, EventReject, or
	// EventComplete, naming which of the four terminal task states this
	// event represents (completed, failed, canceled, or rejected).
	TerminalState task.State
}

// Execution is the runtime handle to one running (or finished) workflow.
// Its events project onto a child task; it is not itself persisted raw.
type Execution struct {
	TaskID    string
	ContextID string
	PluginID  string

	mu        sync.Mutex
	state     task.State
	pauseInfo *PauseInfo
	execErr   error
	metadata  map[string]any
	final     bool
	result    json.RawMessage

	listeners   []Listener
	listenersMu sync.Mutex

	yielder  *Yielder
	cancel   context.CancelFunc
	doneCh   chan struct{}
	firstCh  chan WorkflowState
	firstSet bool
	firstMu  sync.Mutex
}

// OnEvent registers a listener and returns an unsubscribe function.
func (e *Execution) OnEvent(l Listener) (unsubscribe func()) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
	idx := len(e.listeners) - 1
	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		if idx < len(e.listeners) {
			e.listeners[idx] = nil
		}
	}
}

func (e *Execution) emit(ev ExecutionEvent) {
	e.listenersMu.Lock()
	ls := append([]Listener(nil), e.listeners...)
	e.listenersMu.Unlock()
	for _, l := range ls {
		if l != nil {
			l(ev)
		}
	}
}

// State returns the execution's current state, pause info, and error.
func (e *Execution) State() (state task.State, pause *PauseInfo, err error, final bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.pauseInfo, e.execErr, e.final
}

// Result returns the execution's final result, if it completed
// successfully.
func (e *Execution) Result() json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

func (e *Execution) setState(s task.State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// waitForCompletion blocks until the execution's goroutine has finished.
func (e *Execution) waitForCompletion(ctx context.Context) error {
	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
