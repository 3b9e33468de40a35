package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskerr"
	"goa.design/a2aruntime/runtime/telemetry"
)

// Runtime holds the registry of workflow plugins and creates/drives
// executions. A Runtime is safe for concurrent use; the plugin registry
// is read-mostly after startup (spec.md §5).
type Runtime struct {
	tel telemetry.Bundle

	mu            sync.RWMutex
	plugins       map[string]*Plugin // canonical id -> plugin
	executions    map[string]*Execution
	pendingCancel map[string]bool
	shutdownFlag  bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New constructs an empty Runtime.
func New(tel telemetry.Bundle) *Runtime {
	return &Runtime{
		tel:           tel,
		plugins:       make(map[string]*Plugin),
		executions:    make(map[string]*Execution),
		pendingCancel: make(map[string]bool),
		entropy:       ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// NewTaskID generates a ULID taskId: time-ordered and globally unique, as
// spec.md §3 requires.
func (r *Runtime) NewTaskID() string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), r.entropy).String()
}

// Register adds plugin to the registry under its canonicalized id.
// Registering a raw id that canonicalizes to an already-registered id
// fails with taskerr.KindDuplicatePlugin.
func (r *Runtime) Register(p Plugin) error {
	if err := p.validate(); err != nil {
		return taskerr.Wrap(taskerr.KindInvalidPlugin, err, err.Error())
	}
	canon := p.canonicalID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.plugins[canon]; dup {
		return taskerr.New(taskerr.KindDuplicatePlugin, "plugin "+canon+" already registered")
	}
	cp := p
	r.plugins[canon] = &cp
	return nil
}

// ListPlugins returns every registered plugin.
func (r *Runtime) ListPlugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, *p)
	}
	return out
}

// GetPlugin looks up a plugin by canonical id. A non-canonical id never
// matches -- canonicalization happens once, at registration, and callers
// are expected to canonicalize before every lookup (spec.md §4.1).
func (r *Runtime) GetPlugin(canonicalID string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[canonicalID]
	if !ok {
		return Plugin{}, false
	}
	return *p, true
}

// GetAvailableTools returns one ToolDescriptor per registered plugin.
// Never includes a resume tool.
func (r *Runtime) GetAvailableTools() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.descriptor())
	}
	return out
}

// GetToolMetadata looks up a tool descriptor by its exact generated name.
func (r *Runtime) GetToolMetadata(name string) (ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		d := p.descriptor()
		if d.Name == name {
			return d, nil
		}
	}
	return ToolDescriptor{}, taskerr.New(taskerr.KindUnknownTool, "unknown tool "+name)
}

// DispatchInput carries the parameters for Dispatch.
type DispatchInput struct {
	ContextID  string
	TaskID     string // optional; generated via NewTaskID when empty
	Parameters json.RawMessage
}

// Dispatch creates and starts an execution for canonicalPluginID. It
// returns as soon as the execution's goroutines are started and the
// execution is registered; it does not wait for the first yield. Callers
// that need the synchronous dispatch-response window call
// WaitForFirstYield afterward, matching the Workflow Handler's dispatch
// algorithm in spec.md §4.6.
func (r *Runtime) Dispatch(ctx context.Context, canonicalPluginID string, in DispatchInput) (*Execution, error) {
	r.mu.RLock()
	if r.shutdownFlag {
		r.mu.RUnlock()
		return nil, taskerr.New(taskerr.KindUnknownPlugin, "runtime is shut down")
	}
	p, ok := r.plugins[canonicalPluginID]
	r.mu.RUnlock()
	if !ok {
		return nil, taskerr.New(taskerr.KindUnknownPlugin, "unknown plugin "+canonicalPluginID)
	}
	if len(p.InputSchema) > 0 {
		if err := validateAgainstSchema(p.InputSchema, in.Parameters); err != nil {
			return nil, taskerr.Wrap(taskerr.KindInvalidParameters, err, err.Error())
		}
	}

	taskID := in.TaskID
	if taskID == "" {
		taskID = r.NewTaskID()
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exec := &Execution{
		TaskID:    taskID,
		ContextID: in.ContextID,
		PluginID:  canonicalPluginID,
		state:     task.StateSubmitted,
		cancel:    cancel,
		doneCh:    make(chan struct{}),
		firstCh:   make(chan WorkflowState, 1),
	}

	r.mu.Lock()
	pendingCancel := r.pendingCancel[taskID]
	delete(r.pendingCancel, taskID)
	r.executions[taskID] = exec
	r.mu.Unlock()

	outbound := make(chan WorkflowState)
	inbound := make(chan resumeMsg, 1)
	exec.yielder = &Yielder{ctx: execCtx, outbound: outbound, inbound: inbound}

	if pendingCancel {
		cancel()
	}

	pluginDone := make(chan struct{})
	var result json.RawMessage
	var execErr error

	go func() {
		defer close(pluginDone)
		result, execErr = p.Execute(exec.yielder, in.Parameters)
	}()

	go r.drive(execCtx, exec, outbound, pluginDone, &result, &execErr)

	return exec, nil
}

// drive is the execution's single consumer of its outbound yield channel.
// It runs until the plugin goroutine finishes, applying each yield to the
// execution's state and fanning it out to listeners.
func (r *Runtime) drive(ctx context.Context, exec *Execution, outbound chan WorkflowState, pluginDone chan struct{}, result *json.RawMessage, execErr *error) {
	exec.setState(task.StateWorking)
	for {
		select {
		case st := <-outbound:
			r.handleYield(exec, st)
		case <-pluginDone:
			r.finalizeFromResult(ctx, exec, *result, *execErr)
			close(exec.doneCh)
			return
		}
	}
}

func (r *Runtime) handleYield(exec *Execution, st WorkflowState) {
	exec.mu.Lock()
	if exec.final {
		exec.mu.Unlock()
		return
	}
	exec.mu.Unlock()

	exec.firstMu.Lock()
	if !exec.firstSet {
		exec.firstSet = true
		exec.firstCh <- st
	}
	exec.firstMu.Unlock()

	switch st.Kind {
	case YieldDispatchResponse:
		// Consumed synchronously by the dispatcher; never an artifact.
	case YieldStatusUpdate:
		exec.emit(ExecutionEvent{Kind: EventUpdate, State: st})
	case YieldArtifact:
		exec.emit(ExecutionEvent{Kind: EventArtifact, State: st})
	case YieldInterrupted:
		pause := &PauseInfo{Reason: st.Reason, Message: st.Message, InputSchema: st.InputSchema}
		exec.mu.Lock()
		exec.state = pauseState(st.Reason)
		exec.pauseInfo = pause
		exec.mu.Unlock()
		exec.emit(ExecutionEvent{Kind: EventPause, State: st, PauseInfo: pause})
	case YieldReject:
		exec.mu.Lock()
		exec.state = task.StateRejected
		exec.final = true
		exec.mu.Unlock()
		exec.emit(ExecutionEvent{Kind: EventReject, State: st, TerminalState: task.StateRejected})
	}
}

func pauseState(reason InterruptReason) task.State {
	if reason == ReasonAuthRequired {
		return task.StateAuthRequired
	}
	return task.StateInputRequired
}

func (r *Runtime) finalizeFromResult(ctx context.Context, exec *Execution, result json.RawMessage, err error) {
	exec.mu.Lock()
	if exec.final {
		exec.mu.Unlock()
		return
	}
	exec.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			exec.mu.Lock()
			exec.state = task.StateCanceled
			exec.final = true
			exec.mu.Unlock()
			exec.emit(ExecutionEvent{Kind: EventComplete, TerminalState: task.StateCanceled, Error: err})
			return
		}
		werr := taskerr.Wrap(taskerr.KindWorkflowError, err, err.Error())
		if r.tel.Logger != nil {
			werr = werr.WithStack("")
		}
		exec.mu.Lock()
		exec.state = task.StateFailed
		exec.final = true
		exec.execErr = werr
		exec.mu.Unlock()
		exec.emit(ExecutionEvent{Kind: EventError, TerminalState: task.StateFailed, Error: werr})
		return
	}
	exec.mu.Lock()
	exec.state = task.StateCompleted
	exec.final = true
	exec.result = result
	exec.mu.Unlock()
	exec.emit(ExecutionEvent{Kind: EventComplete, TerminalState: task.StateCompleted, Result: result})
}

// WaitForFirstYield returns the first yielded WorkflowState within
// timeout, or false if none arrives in time. Used by the Workflow Handler
// to answer a dispatching tool-call synchronously when the first yield is
// a dispatch-response.
func (r *Runtime) WaitForFirstYield(taskID string, timeout time.Duration) (WorkflowState, bool) {
	r.mu.RLock()
	exec, ok := r.executions[taskID]
	r.mu.RUnlock()
	if !ok {
		return WorkflowState{}, false
	}
	select {
	case st := <-exec.firstCh:
		return st, true
	case <-time.After(timeout):
		return WorkflowState{}, false
	}
}

// ResumeResult reports whether ResumeWorkflow accepted the input and, if
// not, the validation errors.
type ResumeResult struct {
	Valid            bool
	ValidationErrors string
}

// ResumeWorkflow validates input against the paused execution's
// pauseInfo.inputSchema; on success it delivers input to the suspended
// Yielder and the execution advances. On failure it leaves the execution
// paused.
func (r *Runtime) ResumeWorkflow(ctx context.Context, taskID string, input json.RawMessage) (ResumeResult, error) {
	r.mu.RLock()
	exec, ok := r.executions[taskID]
	r.mu.RUnlock()
	if !ok {
		return ResumeResult{}, taskerr.New(taskerr.KindUnknownTask, "unknown task "+taskID)
	}

	exec.mu.Lock()
	if !exec.state.Paused() || exec.pauseInfo == nil {
		st := exec.state
		exec.mu.Unlock()
		return ResumeResult{}, taskerr.New(taskerr.KindNotPaused, "task "+taskID+" is not paused (state="+string(st)+")")
	}
	schema := exec.pauseInfo.InputSchema
	exec.mu.Unlock()

	if err := validateAgainstSchema(schema, input); err != nil {
		return ResumeResult{Valid: false, ValidationErrors: err.Error()}, nil
	}

	exec.mu.Lock()
	exec.state = task.StateWorking
	exec.pauseInfo = nil
	exec.mu.Unlock()

	select {
	case exec.yielder.inbound <- resumeMsg{input: input}:
	case <-ctx.Done():
		return ResumeResult{}, ctx.Err()
	}
	return ResumeResult{Valid: true}, nil
}

// CancelExecution transitions an execution toward canceled. Idempotent:
// calling it N times behaves as calling it once. Safe to call before the
// execution has actually started -- recorded in a pending-cancel set and
// applied when Dispatch starts it.
func (r *Runtime) CancelExecution(taskID string) {
	r.mu.Lock()
	exec, ok := r.executions[taskID]
	if !ok {
		r.pendingCancel[taskID] = true
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	exec.cancel()
}

// TaskStateSnapshot is returned by GetTaskState.
type TaskStateSnapshot struct {
	State     task.State
	PauseInfo *PauseInfo
	Error     error
	Final     bool
}

// GetTaskState returns the current snapshot for taskID, or false if no
// execution is registered under it.
func (r *Runtime) GetTaskState(taskID string) (TaskStateSnapshot, bool) {
	r.mu.RLock()
	exec, ok := r.executions[taskID]
	r.mu.RUnlock()
	if !ok {
		return TaskStateSnapshot{}, false
	}
	state, pause, err, final := exec.State()
	return TaskStateSnapshot{State: state, PauseInfo: pause, Error: err, Final: final}, true
}

// GetExecution returns the Execution handle for taskID, used by the
// Workflow Handler to register listeners and await completion.
func (r *Runtime) GetExecution(taskID string) (*Execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executions[taskID]
	return exec, ok
}

// WaitForCompletion blocks until the execution finishes or ctx is
// canceled.
func (r *Runtime) WaitForCompletion(ctx context.Context, taskID string) error {
	r.mu.RLock()
	exec, ok := r.executions[taskID]
	r.mu.RUnlock()
	if !ok {
		return taskerr.New(taskerr.KindUnknownTask, "unknown task "+taskID)
	}
	return exec.waitForCompletion(ctx)
}

// Shutdown cancels all active executions, clears the registry, and makes
// every subsequent Dispatch fail.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	r.shutdownFlag = true
	execs := make([]*Execution, 0, len(r.executions))
	for _, e := range r.executions {
		execs = append(execs, e)
	}
	r.plugins = make(map[string]*Plugin)
	r.mu.Unlock()

	for _, e := range execs {
		e.cancel()
	}
}
