package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/xhad/devrag/internal/apperr"
)

type geminiEmbedder struct {
	client    *genai.Client
	documents *genai.EmbeddingModel
	queries   *genai.EmbeddingModel
}

func newGeminiEmbedder(ctx context.Context, apiKey, model string) (*geminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key is required", apperr.ErrValidation)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	documents := client.EmbeddingModel(model)
	documents.TaskType = genai.TaskTypeRetrievalDocument
	queries := client.EmbeddingModel(model)
	queries.TaskType = genai.TaskTypeRetrievalQuery

	return &geminiEmbedder{client: client, documents: documents, queries: queries}, nil
}

func (g *geminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		v, err := embedWith(ctx, g.documents, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

func (g *geminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return embedWith(ctx, g.queries, text)
}

func (g *geminiEmbedder) Close() error {
	return g.client.Close()
}

func embedWith(ctx context.Context, model *genai.EmbeddingModel, text string) ([]float32, error) {
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("empty embedding response")
	}

	values := resp.Embedding.Values
	result := make([]float32, len(values))
	for i, v := range values {
		result[i] = float32(v)
	}
	return result, nil
}

// GeminiConfig represents the configuration for the Gemini generator.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// GeminiGenerator answers prompts with a Gemini model.
type GeminiGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiGenerator(ctx context.Context, config GeminiConfig) (*GeminiGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key is required", apperr.ErrValidation)
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	if config.Temperature >= 0 {
		model.SetTemperature(float32(config.Temperature))
	}
	if config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(config.MaxTokens))
	}

	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrGeneration, err)
	}

	var parts []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				parts = append(parts, string(text))
			}
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: model returned no text", apperr.ErrGeneration)
	}
	return strings.Join(parts, ""), nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}
