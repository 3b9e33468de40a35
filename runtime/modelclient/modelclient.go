// Package modelclient defines the boundary between the AI Handler and a
// concrete language-model transport. spec.md §1 places "the concrete
// language-model transport" out of scope; this package is the named
// interface boundary the spec leaves implicit, plus three reference
// implementations (Anthropic, OpenAI, Bedrock) wired to their SDKs. The
// AI Handler itself only ever depends on StreamingModel and is tested
// against a fake, never against a live provider.
package modelclient

import (
	"context"
	"encoding/json"
)

// EventKind names one of the streaming event kinds a StreamingModel
// produces, using the vocabulary spec.md §4.5 specifies (grounded on the
// naming in other_examples' oasis/opencode streaming loops).
type EventKind string

// Recognized event kinds.
const (
	EventTextDelta       EventKind = "text-delta"
	EventTextEnd         EventKind = "text-end"
	EventReasoningStart  EventKind = "reasoning-start"
	EventReasoningDelta  EventKind = "reasoning-delta"
	EventReasoningEnd    EventKind = "reasoning-end"
	EventToolCall        EventKind = "tool-call"
	EventToolResult      EventKind = "tool-result"
	EventToolOutputError EventKind = "tool-output-error"
	EventToolInputDelta  EventKind = "tool-input-delta"
	EventToolInputEnd    EventKind = "tool-input-end"
	EventStepStart       EventKind = "step-start"
	EventStepFinish      EventKind = "step-finish"
)

// Event is one value produced by a StreamingModel's incremental response.
// Only the fields relevant to Kind are populated, mirroring the provider
// SDKs' own tagged-union stream chunks.
type Event struct {
	Kind EventKind

	// EventTextDelta / EventReasoningDelta
	Text string

	// EventToolCall
	ToolCallIndex int
	ToolCallID    string
	ToolName      string
	ToolInput     json.RawMessage

	// EventToolResult
	ToolResultIndex int
	Output          json.RawMessage

	// EventToolOutputError
	ErrorText string
}

// Message is one turn of conversation history passed to Stream.
type Message struct {
	Role    string
	Content []Part
}

// Part is one content element of a Message.
type Part struct {
	Kind       string // "text", "tool-call", "tool-result"
	Text       string
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Output     json.RawMessage
}

// Tool describes one callable tool offered to the model, composed by the
// AI Handler from AI-provided tools and workflow-dispatch tools (spec.md
// §4.5 "tool set composition").
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request carries one streaming call's conversation and tool set.
type Request struct {
	History []Message
	Tools   []Tool
}

// StreamingModel is the transport-agnostic boundary the AI Handler calls
// through. Stream returns a channel of Events closed when the model's
// response is complete, and a function the caller must invoke to learn
// whether the stream ended with an error.
type StreamingModel interface {
	Stream(ctx context.Context, req Request) (<-chan Event, func() error)
}
