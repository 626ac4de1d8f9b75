package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

type modelGenerator struct {
	model   llms.Model
	options []llms.CallOption
}

// FromModel adapts any langchaingo model. The call options are applied to every request.
func FromModel(model llms.Model, options ...llms.CallOption) Generator {
	return &modelGenerator{model: model, options: options}
}

func (g *modelGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	resp, err := g.model.GenerateContent(ctx, messages, g.options...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// NewOllama connects to an Ollama server. An empty serverURL uses the
// client's default (OLLAMA_HOST or localhost).
func NewOllama(model, serverURL string, temperature float64) (Generator, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return FromModel(client, llms.WithTemperature(temperature)), nil
}
