package llm

import (
	"context"
	"os"

	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator calls an OpenAI compatible chat completions endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAI creates a generator. An empty APIKey falls back to OPENAI_API_KEY
// and an empty Model to gpt-4o-mini.
func NewOpenAI(opts Options) *OpenAIGenerator {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: float32(opts.Temperature),
	}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
