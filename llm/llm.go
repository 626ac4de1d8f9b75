// Package llm adapts text-generation backends to the single call the debate
// stages need: a system instruction plus user text in, generated text out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a backend produces no choices.
var ErrEmptyResponse = errors.New("no response from model")

// Generator produces text for a system instruction and a user message.
// Implementations must be safe for concurrent use; parallel stages share one.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc is a function adapter for Generator
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

// Generate implements the Generator interface
func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Options selects and configures a backend.
type Options struct {
	// Provider is "ollama", "openai" or "echo".
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
}

// New builds the generator named by opts.Provider.
func New(opts Options) (Generator, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "ollama":
		return NewOllama(opts.Model, opts.BaseURL, opts.Temperature)
	case "openai":
		return NewOpenAI(opts), nil
	case "echo":
		return Echo(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// Echo returns an offline generator that answers with a deterministic
// digest of its input. It is meant for demos and dry runs.
func Echo() Generator {
	return GeneratorFunc(func(ctx context.Context, system, user string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		first, _, _ := strings.Cut(strings.TrimSpace(system), "\n")
		return fmt.Sprintf("[%s] %s", first, strings.TrimSpace(user)), nil
	})
}
