package aihandler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/modelclient"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflowhandler"
)

// pendingToolCall is the per-call collector entry spec.md §4.5 describes
// for tool-call(id, name, input): {name, arguments} plus the artifactId
// that lets a later tool-result reference it.
type pendingToolCall struct {
	id         string
	name       string
	arguments  []byte
	artifactID string
}

// streamProcessor holds the per-call mutable state spec.md §4.5 names and
// implements its event-handling table.
type streamProcessor struct {
	taskID    string
	contextID string
	parentBus *bus.Bus
	workflows *workflowhandler.Handler
	tel       telemetry.Bundle

	textChunkIndex      int
	reasoningChunkIndex int
	textPublished       int // how many text chunks have actually been published (for append flag)
	reasoningPublished  int
	bufferedArtifact     *task.Artifact
	bufferedReasoning    *task.Artifact

	toolCallArtifacts map[int]string // index -> artifactId
	pendingByIndex    map[int]*pendingToolCall
	deltaCounters     map[modelclient.EventKind]int

	accumulatedText      string
	accumulatedReasoning string
	dispatchedChildren   []string
}

func newStreamProcessor(taskID, contextID string, parentBus *bus.Bus, wh *workflowhandler.Handler, tel telemetry.Bundle) *streamProcessor {
	return &streamProcessor{
		taskID:            taskID,
		contextID:         contextID,
		parentBus:         parentBus,
		workflows:         wh,
		tel:               tel,
		toolCallArtifacts: make(map[int]string),
		pendingByIndex:    make(map[int]*pendingToolCall),
		deltaCounters:     make(map[modelclient.EventKind]int),
	}
}

// handle dispatches one model event per spec.md §4.5's table.
func (p *streamProcessor) handle(ctx context.Context, ev modelclient.Event) {
	switch ev.Kind {
	case modelclient.EventTextDelta:
		p.onTextDelta(ev.Text)
	case modelclient.EventTextEnd:
		p.flushText(true)
	case modelclient.EventReasoningDelta:
		p.onReasoningDelta(ev.Text)
	case modelclient.EventReasoningEnd:
		p.flushReasoning(true)
	case modelclient.EventToolCall:
		p.onToolCall(ctx, ev)
	case modelclient.EventToolResult:
		p.onToolResult(ev)
	case modelclient.EventToolOutputError:
		p.onToolOutputError(ev)
	case modelclient.EventToolInputDelta:
		p.deltaCounters[modelclient.EventToolInputDelta]++
	case modelclient.EventToolInputEnd:
		p.deltaCounters[modelclient.EventToolInputDelta] = 0
	case modelclient.EventStepStart, modelclient.EventStepFinish, modelclient.EventReasoningStart:
		// No publication, per spec.md §4.5.
	default:
		p.deltaCounters[ev.Kind]++
	}
}

// onTextDelta implements spec.md §4.5's text-delta row: publish whatever
// was previously buffered (not the new delta, not lastChunk), then buffer
// the new delta for the next trigger (another delta, text-end, or
// end-of-stream) to publish.
func (p *streamProcessor) onTextDelta(text string) {
	if p.bufferedArtifact != nil {
		p.publishArtifact(p.bufferedArtifact, p.textPublished > 0, false)
		p.textPublished++
	}
	p.textChunkIndex++
	p.bufferedArtifact = &task.Artifact{
		ArtifactID: fmt.Sprintf("text-response-%s", p.taskID),
		Parts:      []task.Part{task.TextPart(text)},
	}
	p.accumulatedText += text
}

func (p *streamProcessor) flushText(lastChunk bool) {
	if p.bufferedArtifact == nil {
		return
	}
	p.publishArtifact(p.bufferedArtifact, p.textPublished > 0, lastChunk)
	p.textPublished++
	p.bufferedArtifact = nil
}

func (p *streamProcessor) onReasoningDelta(text string) {
	if p.bufferedReasoning != nil {
		p.publishArtifact(p.bufferedReasoning, p.reasoningPublished > 0, false)
		p.reasoningPublished++
	}
	p.reasoningChunkIndex++
	p.bufferedReasoning = &task.Artifact{
		ArtifactID: fmt.Sprintf("reasoning-%s", p.taskID),
		Parts:      []task.Part{task.TextPart(text)},
	}
	p.accumulatedReasoning += text
}

func (p *streamProcessor) flushReasoning(lastChunk bool) {
	if p.bufferedReasoning == nil {
		return
	}
	p.publishArtifact(p.bufferedReasoning, p.reasoningPublished > 0, lastChunk)
	p.reasoningPublished++
	p.bufferedReasoning = nil
}

// flushAll flushes any still-buffered lanes with lastChunk=true, the
// end-of-stream step spec.md §4.5 requires regardless of whether the
// model ever emitted an explicit text-end/reasoning-end.
func (p *streamProcessor) flushAll() {
	p.flushText(true)
	p.flushReasoning(true)
}

func (p *streamProcessor) onToolCall(ctx context.Context, ev modelclient.Event) {
	if ev.ToolName == "" {
		return
	}
	if pluginID, ok := isDispatchTool(ev.ToolName); ok {
		res, err := p.workflows.Dispatch(ctx, p.contextID, p.parentBus, pluginID, ev.ToolInput)
		if err != nil {
			p.parentBus.Publish(task.Event{
				Kind:      task.EventStatusUpdate,
				TaskID:    p.taskID,
				ContextID: p.contextID,
				Status: &task.Status{
					State:     task.StateWorking,
					Message:   &task.TaskMessage{Role: "assistant", Parts: []task.Part{task.TextPart("workflow dispatch failed: " + err.Error())}},
					Timestamp: time.Now(),
				},
			})
			return
		}
		p.dispatchedChildren = append(p.dispatchedChildren, res.TaskID)
		return
	}

	artifactID := uuid.NewString()
	p.toolCallArtifacts[ev.ToolCallIndex] = artifactID
	p.pendingByIndex[ev.ToolCallIndex] = &pendingToolCall{id: ev.ToolCallID, name: ev.ToolName, arguments: ev.ToolInput, artifactID: artifactID}

	p.publishArtifact(&task.Artifact{
		ArtifactID: artifactID,
		Name:       ev.ToolName,
		Parts:      []task.Part{task.ToolCallPart(ev.ToolCallID, ev.ToolName, ev.ToolInput)},
	}, false, false)

	if p.tel.Logger != nil {
		p.tel.Logger.Debug(ctx, "tool call", "taskId", p.taskID, "tool", ev.ToolName, "args", truncatePreview(string(ev.ToolInput)))
	}
}

func (p *streamProcessor) onToolResult(ev modelclient.Event) {
	pc, ok := p.pendingByIndex[ev.ToolResultIndex]
	if !ok {
		return
	}
	delete(p.pendingByIndex, ev.ToolResultIndex)
	p.publishArtifact(&task.Artifact{
		ArtifactID: pc.artifactID,
		Name:       pc.name,
		Parts:      []task.Part{task.ToolResultPart(pc.id, pc.name, ev.Output)},
	}, true, true)
}

func (p *streamProcessor) onToolOutputError(ev modelclient.Event) {
	p.publishArtifact(&task.Artifact{
		ArtifactID: fmt.Sprintf("tool-error-%s-%d", p.taskID, len(p.pendingByIndex)),
		Parts:      []task.Part{task.ToolOutputErrorPart(ev.ErrorText)},
	}, false, true)
}

func (p *streamProcessor) publishArtifact(a *task.Artifact, appendParts, lastChunk bool) {
	p.parentBus.Publish(task.Event{
		Kind:      task.EventArtifactUpdate,
		TaskID:    p.taskID,
		ContextID: p.contextID,
		Artifact:  a,
		Append:    appendParts,
		LastChunk: lastChunk,
	})
}

// reconstructedAssistantParts rebuilds the assistant message spec.md
// §4.5's end-of-stream step appends to history.
func (p *streamProcessor) reconstructedAssistantParts() []task.Part {
	var parts []task.Part
	if p.accumulatedText != "" {
		parts = append(parts, task.TextPart(p.accumulatedText))
	}
	return parts
}
