package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

var errEmptyResponse = errors.New("empty response from model")

type langchainCompleter struct {
	model        llms.Model
	systemPrompt string
	temperature  float64
	maxTokens    int
}

// FromModel adapts a langchaingo model. The system prompt, when set, is sent
// ahead of every prompt.
func FromModel(model llms.Model, opts Options) Completer {
	return &langchainCompleter{
		model:        model,
		systemPrompt: opts.SystemPrompt,
		temperature:  opts.Temperature,
		maxTokens:    opts.MaxTokens,
	}
}

func NewOpenAI(opts Options) (Completer, error) {
	clientOpts := []openai.Option{openai.WithModel(opts.Model)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, openai.WithToken(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}
	model, err := openai.New(clientOpts...)
	if err != nil {
		return nil, err
	}
	return FromModel(model, opts), nil
}

func NewAnthropic(opts Options) (Completer, error) {
	clientOpts := []anthropic.Option{anthropic.WithModel(opts.Model)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, anthropic.WithToken(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(opts.BaseURL))
	}
	model, err := anthropic.New(clientOpts...)
	if err != nil {
		return nil, err
	}
	return FromModel(model, opts), nil
}

func (c *langchainCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, c.systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	callOpts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", errEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
