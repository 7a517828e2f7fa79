package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/devrag/internal/apperr"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
}

// ChatEngine is an engine that uses an Ollama model to answer prompts.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := chatDefaults(config)
	if err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// NewChatEngine creates a ChatEngine over an existing model.
func NewChatEngine(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	config, err := chatDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func chatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("%w: temperature must be between 0 and 2", apperr.ErrValidation)
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("%w: max tokens cannot be negative", apperr.ErrValidation)
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return config, nil
}

// Generate returns the model's completion for prompt.
func (ce *ChatEngine) Generate(ctx context.Context, prompt string) (string, error) {
	return ce.generate(ctx, prompt)
}

// Stream is like Generate but also passes each chunk to fn as it arrives.
func (ce *ChatEngine) Stream(ctx context.Context, prompt string, fn func(chunk string)) (string, error) {
	return ce.generate(ctx, prompt, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		fn(string(chunk))
		return nil
	}))
}

func (ce *ChatEngine) generate(ctx context.Context, prompt string, extra ...llms.CallOption) (string, error) {
	options := append([]llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}, extra...)

	completion, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrGeneration, err)
	}
	if completion == "" {
		return "", fmt.Errorf("%w: empty response from model", apperr.ErrGeneration)
	}
	return completion, nil
}
