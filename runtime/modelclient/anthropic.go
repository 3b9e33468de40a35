package modelclient

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic is a StreamingModel backed by Claude's Messages streaming API.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic constructs a client for model, authenticating with apiKey.
func NewAnthropic(apiKey string, model anthropic.Model) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Stream implements StreamingModel.
func (a *Anthropic) Stream(ctx context.Context, req Request) (<-chan Event, func() error) {
	out := make(chan Event)
	var streamErr error

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		Messages:  toAnthropicMessages(req.History),
		Tools:     toAnthropicTools(req.Tools),
	}

	go func() {
		defer close(out)
		stream := a.client.Messages.NewStreaming(ctx, params)
		toolIndex := -1
		for stream.Next() {
			ev := stream.Current()
			switch variant := ev.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if variant.ContentBlock.Type == "tool_use" {
					toolIndex++
					out <- Event{
						Kind:          EventToolCall,
						ToolCallIndex: toolIndex,
						ToolCallID:    variant.ContentBlock.ID,
						ToolName:      variant.ContentBlock.Name,
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch variant.Delta.Type {
				case "text_delta":
					out <- Event{Kind: EventTextDelta, Text: variant.Delta.Text}
				case "thinking_delta":
					out <- Event{Kind: EventReasoningDelta, Text: variant.Delta.Thinking}
				case "input_json_delta":
					out <- Event{Kind: EventToolInputDelta, ToolCallIndex: toolIndex, ToolInput: json.RawMessage(variant.Delta.PartialJSON)}
				}
			case anthropic.ContentBlockStopEvent:
				out <- Event{Kind: EventToolInputEnd, ToolCallIndex: toolIndex}
			case anthropic.MessageStopEvent:
				out <- Event{Kind: EventTextEnd}
			}
		}
		streamErr = stream.Err()
	}()

	return out, func() error { return streamErr }
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range m.Content {
			switch p.Kind {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			case "tool-result":
				blocks = append(blocks, anthropic.NewToolResultBlock(p.ToolCallID, string(p.Output), false))
			}
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, t.Name))
	}
	return out
}
