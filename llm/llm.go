package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownProvider = errors.New("unknown model provider")

// Completer turns a prompt into a response. Implementations may fail; callers
// decide how to degrade.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Options configures one model endpoint.
type Options struct {
	Provider     string
	Model        string
	BaseURL      string
	APIKey       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Factory builds a Completer for a provider.
type Factory func(opts Options) (Completer, error)

// Providers maps a provider name to its factory.
type Providers map[string]Factory

// DefaultProviders returns the providers backed by langchaingo.
func DefaultProviders() Providers {
	return Providers{
		"openai":    NewOpenAI,
		"anthropic": NewAnthropic,
	}
}

func (p Providers) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the Completer for opts.Provider.
func (p Providers) New(opts Options) (Completer, error) {
	factory, ok := p[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownProvider, opts.Provider, p.Names())
	}
	c, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s completer for %s: %w", opts.Provider, opts.Model, err)
	}
	return c, nil
}
