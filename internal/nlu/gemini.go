package nlu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// Gemini completes prompts with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("nlu: gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("nlu: create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Complete(ctx context.Context, p Prompt) (Completion, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0)
	model.SetCandidateCount(1)
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.MaxTokens)
	}
	if p.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if p.Instructions != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(p.Instructions))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(p.Input))
	if err != nil {
		return Completion{}, fmt.Errorf("nlu: gemini generate: %w", err)
	}
	c := Completion{Text: geminiText(resp), Provider: "gemini"}
	if c.Text == "" {
		return Completion{}, errEmptyCompletion
	}
	if u := resp.UsageMetadata; u != nil {
		c.InputTokens = u.PromptTokenCount
		c.OutputTokens = u.CandidatesTokenCount
	}
	return c, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
