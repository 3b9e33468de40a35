package modelclient

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// Bedrock is a StreamingModel backed by the Bedrock Converse streaming
// API, the third reference transport alongside Anthropic and OpenAI.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock wraps client to stream completions from modelID.
func NewBedrock(client *bedrockruntime.Client, modelID string) *Bedrock {
	return &Bedrock{client: client, modelID: modelID}
}

// Stream implements StreamingModel.
func (b *Bedrock) Stream(ctx context.Context, req Request) (<-chan Event, func() error) {
	out := make(chan Event)
	var streamErr error

	go func() {
		defer close(out)
		resp, err := b.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
			ModelId:  aws.String(b.modelID),
			Messages: toBedrockMessages(req.History),
			ToolConfig: toBedrockToolConfig(req.Tools),
		})
		if err != nil {
			streamErr = err
			return
		}
		stream := resp.GetStream()
		defer stream.Close()
		toolIndex := -1
		for event := range stream.Events() {
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolIndex++
					out <- Event{
						Kind:          EventToolCall,
						ToolCallIndex: toolIndex,
						ToolCallID:    aws.ToString(toolUse.Value.ToolUseId),
						ToolName:      aws.ToString(toolUse.Value.Name),
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					out <- Event{Kind: EventTextDelta, Text: d.Value}
				case *types.ContentBlockDeltaMemberToolUse:
					out <- Event{Kind: EventToolInputDelta, ToolCallIndex: toolIndex, ToolInput: json.RawMessage(aws.ToString(d.Value.Input))}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				out <- Event{Kind: EventToolInputEnd, ToolCallIndex: toolIndex}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- Event{Kind: EventTextEnd}
			}
		}
		if err := stream.Err(); err != nil {
			var apiErr smithy.APIError
			if ok := asSmithyAPIError(err, &apiErr); ok {
				streamErr = apiErr
				return
			}
			streamErr = err
		}
	}()

	return out, func() error { return streamErr }
}

func asSmithyAPIError(err error, target *smithy.APIError) bool {
	type apiError interface {
		ErrorCode() string
		ErrorMessage() string
		ErrorFault() smithy.ErrorFault
	}
	if ae, ok := err.(apiError); ok {
		*target = ae.(smithy.APIError)
		return true
	}
	return false
}

func toBedrockMessages(msgs []Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		var blocks []types.ContentBlock
		for _, p := range m.Content {
			if p.Kind == "text" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: p.Text})
			}
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out
}

func toBedrockToolConfig(tools []Tool) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schemaDoc document
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schemaDoc)
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: schemaDoc},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

// document is a minimal stand-in for the smithy document type Bedrock's
// tool schema expects; it carries arbitrary JSON through untouched.
type document map[string]any
