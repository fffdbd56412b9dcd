package nlu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ConverseAPI is the Bedrock runtime call the Bedrock completer makes.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock completes prompts through the Bedrock Converse API.
type Bedrock struct {
	api     ConverseAPI
	modelID string
}

func NewBedrock(api ConverseAPI, modelID string) (*Bedrock, error) {
	if api == nil {
		return nil, errors.New("nlu: bedrock client is required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("nlu: bedrock model id is required")
	}
	return &Bedrock{api: api, modelID: modelID}, nil
}

func (b *Bedrock) Complete(ctx context.Context, p Prompt) (Completion, error) {
	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: p.Input}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{Temperature: aws.Float32(0)},
	}
	if p.Instructions != "" {
		in.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: p.Instructions}}
	}
	if p.MaxTokens > 0 {
		in.InferenceConfig.MaxTokens = aws.Int32(p.MaxTokens)
	}

	out, err := b.api.Converse(ctx, in)
	if err != nil {
		return Completion{}, fmt.Errorf("nlu: bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Completion{}, errEmptyCompletion
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	c := Completion{Text: strings.TrimSpace(text.String()), Provider: "bedrock"}
	if c.Text == "" {
		return Completion{}, errEmptyCompletion
	}
	if out.Usage != nil {
		c.InputTokens = aws.ToInt32(out.Usage.InputTokens)
		c.OutputTokens = aws.ToInt32(out.Usage.OutputTokens)
	}
	return c, nil
}
