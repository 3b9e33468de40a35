// Package workflow implements the Workflow Runtime: plugin registration
// with canonical ids, and creation/driving/suspension/resumption/
// cancellation of workflow executions. Grounded on the teacher's
// engine/inmem in-memory workflow engine (goroutine-per-execution,
// channel-driven) and its interrupt.Controller (signal-channel pause/
// resume), generalized per spec.md §9's design note: model each execution
// as a fiber/goroutine with two bounded, single-consumer channels.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// defaultDispatchResponseTimeout bounds the synchronous portion of Dispatch
// when a plugin does not set its own.
const defaultDispatchResponseTimeout = 500 * time.Millisecond

// ExecuteFunc is a plugin's execution body. It receives a Yielder to
// publish WorkflowState values and, for an Interrupted yield, to receive
// the validated resume input. It returns the execution's final result or
// an error (which becomes a WorkflowError).
type ExecuteFunc func(y *Yielder, parameters json.RawMessage) (result json.RawMessage, err error)

// Plugin is a registration record for one workflow.
type Plugin struct {
	// ID is the raw, caller-supplied id. Canonical() derives the id used
	// for every lookup, dispatch, and generated tool name.
	ID          string
	Name        string
	Description string
	Version     string

	// InputSchema validates dispatch parameters, when set.
	InputSchema json.RawMessage

	// DispatchResponseTimeout overrides defaultDispatchResponseTimeout for
	// this plugin's dispatch-response window.
	DispatchResponseTimeout time.Duration

	Execute ExecuteFunc
}

// Canonical returns id with '-' replaced by '_' and lower-cased. Every
// registered id is canonicalized at registration and at every subsequent
// lookup; the generated tool name is always derived from this form, never
// stored separately.
func Canonical(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", "_"))
}

// ToolName returns the dispatch tool name exposed for a canonical plugin
// id. No resume_workflow_* tool is ever exposed.
func ToolName(canonicalID string) string {
	return fmt.Sprintf("dispatch_workflow_%s", canonicalID)
}

func (p Plugin) canonicalID() string { return Canonical(p.ID) }

func (p Plugin) dispatchResponseTimeout() time.Duration {
	return p.DispatchResponseWindow()
}

// DispatchResponseWindow returns the duration a dispatcher should wait for
// this plugin's first yield before treating it as "no synchronous
// response", defaulting to defaultDispatchResponseTimeout.
func (p Plugin) DispatchResponseWindow() time.Duration {
	if p.DispatchResponseTimeout > 0 {
		return p.DispatchResponseTimeout
	}
	return defaultDispatchResponseTimeout
}

// ToolDescriptor is one entry returned by GetAvailableTools: the metadata
// the AI layer needs to offer a workflow as a callable tool.
type ToolDescriptor struct {
	Name        string
	PluginID    string
	Description string
	InputSchema json.RawMessage
}

func (p Plugin) descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        ToolName(p.canonicalID()),
		PluginID:    p.canonicalID(),
		Description: fmt.Sprintf("%s — %s", p.Name, p.Description),
		InputSchema: p.InputSchema,
	}
}

func (p Plugin) validate() error {
	if p.ID == "" || p.Execute == nil {
		return fmt.Errorf("invalid plugin: id and execute are required")
	}
	return nil
}
