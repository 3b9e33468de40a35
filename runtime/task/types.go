// Package task defines the wire and storage data model shared by every
// runtime component: Task, TaskEvent, Artifact, and their Part payloads.
// Field names use camelCase JSON tags to match the JSON-RPC wire format.
//
//nolint:tagliatelle // wire protocol requires camelCase JSON field names
package task

import (
	"encoding/json"
	"time"
)

// State is a task's position in its state machine. See Task for the full
// transition diagram.
type State string

// Recognized task states.
const (
	StateSubmitted     State = "submitted"
	StateWorking       State = "working"
	StateInputRequired State = "input-required"
	StateAuthRequired  State = "auth-required"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCanceled      State = "canceled"
	StateRejected      State = "rejected"
)

// Terminal reports whether s is one of the terminal states. Once a task
// reaches a terminal state it carries Final=true and accepts no further
// status transitions; its artifacts remain readable.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateRejected:
		return true
	default:
		return false
	}
}

// Paused reports whether s is a suspended, resumable state.
func (s State) Paused() bool {
	return s == StateInputRequired || s == StateAuthRequired
}

// Task is the persistent record of one unit of externally observable work.
type Task struct {
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    Status     `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Final     bool       `json:"final,omitempty"`
}

// Status is a task's status snapshot: a state plus an optional
// human-readable message and timestamp.
type Status struct {
	State     State        `json:"state"`
	Message   *TaskMessage `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitempty"`
}

// EventKind identifies the kind of a TaskEvent.
type EventKind string

// Recognized event kinds. Every task-scoped event carries TaskID and
// ContextID; ordering within one task's bus is strictly total.
const (
	EventTask           EventKind = "task"
	EventStatusUpdate   EventKind = "status-update"
	EventArtifactUpdate EventKind = "artifact-update"
	EventMessage        EventKind = "message"
)

// Event is the unit of everything published on an Event Bus.
type Event struct {
	Kind      EventKind      `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Status    *Status        `json:"status,omitempty"`
	Artifact  *Artifact      `json:"artifact,omitempty"`
	Append    bool           `json:"append,omitempty"`
	LastChunk bool           `json:"lastChunk,omitempty"`
	Message   *TaskMessage   `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Final     bool           `json:"final,omitempty"`
}

// TaskMessage is a single message exchanged in a task's conversation, or
// the unassociated reply used for the Message-not-Task reply path.
type TaskMessage struct {
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`

	// ReferenceTaskIDs names other tasks this message refers to -- used by
	// the parent-bus "Dispatching workflow: ..." announcement to point at
	// the dispatched child task without leaking any of its events onto the
	// parent bus.
	ReferenceTaskIDs []string       `json:"referenceTaskIds,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Artifact is an ordered sequence of Parts accumulated under one stable
// ArtifactID within a task. Repeated artifact-update events with the same
// ArtifactID and Append=true concatenate their Parts; the first
// LastChunk=true seals the artifact against further appends.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	sealed      bool
}

// Sealed reports whether a is closed to further appends because a prior
// artifact-update carried LastChunk=true.
func (a *Artifact) Sealed() bool { return a.sealed }

// PartKind identifies the kind of a Part.
type PartKind string

// Recognized part kinds.
const (
	PartText            PartKind = "text"
	PartData            PartKind = "data"
	PartToolCall        PartKind = "tool-call"
	PartToolResult      PartKind = "tool-result"
	PartToolOutputError PartKind = "tool-output-error"
)

// Part is one content element of a message or artifact. Exactly the fields
// relevant to Kind are populated.
type Part struct {
	Kind PartKind `json:"kind"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartData
	Data         json.RawMessage `json:"data,omitempty"`
	DataMimeType string          `json:"dataMimeType,omitempty"`
	DataSchema   json.RawMessage `json:"dataSchema,omitempty"`

	// PartToolCall / PartToolResult
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// PartToolOutputError
	ErrorText string `json:"errorText,omitempty"`
}

// TextPart constructs a text Part.
func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// ToolCallPart constructs a tool-call Part.
func ToolCallPart(toolCallID, toolName string, args json.RawMessage) Part {
	return Part{Kind: PartToolCall, ToolCallID: toolCallID, ToolName: toolName, Args: args}
}

// ToolResultPart constructs a tool-result Part.
func ToolResultPart(toolCallID, toolName string, output json.RawMessage) Part {
	return Part{Kind: PartToolResult, ToolCallID: toolCallID, ToolName: toolName, Output: output}
}

// ToolOutputErrorPart constructs a tool-output-error Part.
func ToolOutputErrorPart(errText string) Part {
	return Part{Kind: PartToolOutputError, ErrorText: errText}
}
