package modelclient

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI is a StreamingModel backed by the Chat Completions streaming API.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI constructs a client for model, authenticating with apiKey.
func NewOpenAI(apiKey string, model openai.ChatModel) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Stream implements StreamingModel.
func (o *OpenAI) Stream(ctx context.Context, req Request) (<-chan Event, func() error) {
	out := make(chan Event)
	var streamErr error

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: toOpenAIMessages(req.History),
		Tools:    toOpenAITools(req.Tools),
	}

	go func() {
		defer close(out)
		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- Event{Kind: EventTextDelta, Text: choice.Delta.Content}
				}
				for i, tc := range choice.Delta.ToolCalls {
					if tc.Function.Name != "" {
						out <- Event{Kind: EventToolCall, ToolCallIndex: int(tc.Index), ToolCallID: tc.ID, ToolName: tc.Function.Name}
					}
					if tc.Function.Arguments != "" {
						out <- Event{Kind: EventToolInputDelta, ToolCallIndex: int(tc.Index), ToolInput: json.RawMessage(tc.Function.Arguments)}
					}
					_ = i
				}
				if choice.FinishReason != "" {
					out <- Event{Kind: EventTextEnd}
				}
			}
		}
		streamErr = stream.Err()
	}()

	return out, func() error { return streamErr }
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text := ""
		for _, p := range m.Content {
			if p.Kind == "text" {
				text += p.Text
			}
		}
		if m.Role == "assistant" {
			out = append(out, openai.AssistantMessage(text))
		} else {
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}
