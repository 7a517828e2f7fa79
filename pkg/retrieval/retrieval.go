package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/types"
	"github.com/xhad/devrag/pkg/store"
)

// NoAnswer is returned as the answer text when retrieval finds nothing.
const NoAnswer = "I cannot find the answer in the provided documents."

const excerptRunes = 300

type Outcome string

const (
	Answered         Outcome = "answered"
	NoContext        Outcome = "no_context"
	RetrievalOnly    Outcome = "retrieval_only"
	GenerationFailed Outcome = "generation_failed"
)

// Streamer is implemented by generators that can deliver the answer in pieces.
type Streamer interface {
	Stream(ctx context.Context, prompt string, fn func(chunk string)) (string, error)
}

type Hit struct {
	ID         string  `json:"id"`
	Score      float32 `json:"score"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	ArticleID  string  `json:"article_id"`
	ChunkIndex int     `json:"chunk_index"`
	Section    string  `json:"section,omitempty"`
	Text       string  `json:"text"`
	Excerpt    string  `json:"excerpt"`
}

type Answer struct {
	Question      string  `json:"question"`
	Hits          []Hit   `json:"hits"`
	Text          string  `json:"text"`
	Outcome       Outcome `json:"outcome"`
	GenerationErr error   `json:"-"`
}

type Config struct {
	Collection string
	TopK       int
	Logger     *log.Logger
}

type Orchestrator struct {
	config    Config
	embedder  types.Embedder
	store     types.VectorStore
	generator types.Generator
	logger    *log.Logger
}

// New prepares the collection for querying. A nil generator limits Answer to
// retrieval only.
func New(ctx context.Context, config Config, embedder types.Embedder, vs types.VectorStore, generator types.Generator) (*Orchestrator, error) {
	if embedder == nil || vs == nil {
		return nil, fmt.Errorf("%w: embedder and vector store are required", apperr.ErrValidation)
	}
	if config.Collection == "" {
		config.Collection = "devto_articles"
	}
	if config.TopK == 0 {
		config.TopK = 3
	}
	if config.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", apperr.ErrValidation)
	}

	if err := vs.EnsureCollection(ctx, config.Collection, embedder.Dimension(), store.MetricCosine); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Orchestrator{
		config:    config,
		embedder:  embedder,
		store:     vs,
		generator: generator,
		logger:    logger,
	}, nil
}

// Search returns up to k hits ordered by similarity. k <= 0 uses the
// configured top_k.
func (o *Orchestrator) Search(ctx context.Context, question string, k int) ([]Hit, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", apperr.ErrValidation)
	}
	if k <= 0 {
		k = o.config.TopK
	}

	vector, err := o.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	points, err := o.store.Query(ctx, vector, k, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		text := payloadString(p.Payload, "text")
		hits = append(hits, Hit{
			ID:         p.ID,
			Score:      p.Score,
			Title:      payloadString(p.Payload, "title"),
			URL:        payloadString(p.Payload, "url"),
			ArticleID:  payloadString(p.Payload, "article_id"),
			ChunkIndex: payloadInt(p.Payload, "chunk_index"),
			Section:    payloadString(p.Payload, "section"),
			Text:       text,
			Excerpt:    excerpt(text),
		})
	}
	return hits, nil
}

func (o *Orchestrator) Answer(ctx context.Context, question string, k int) (*Answer, error) {
	hits, err := o.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	return o.Complete(ctx, question, hits, nil), nil
}

// Complete generates an answer from hits that were already retrieved. When
// onChunk is set and the generator supports it, the answer is streamed.
// Generation failures are reported on the Answer, never returned.
func (o *Orchestrator) Complete(ctx context.Context, question string, hits []Hit, onChunk func(string)) *Answer {
	answer := &Answer{Question: question, Hits: hits}

	switch {
	case len(hits) == 0:
		answer.Outcome = NoContext
		answer.Text = NoAnswer
		return answer
	case o.generator == nil:
		answer.Outcome = RetrievalOnly
		return answer
	}

	prompt := BuildPrompt(question, hits)

	var text string
	var err error
	if s, ok := o.generator.(Streamer); ok && onChunk != nil {
		text, err = s.Stream(ctx, prompt, onChunk)
	} else {
		text, err = o.generator.Generate(ctx, prompt)
	}

	if err != nil {
		if !errors.Is(err, apperr.ErrGeneration) {
			err = fmt.Errorf("%w: %v", apperr.ErrGeneration, err)
		}
		o.logger.Printf("Answer generation failed: %v", err)
		answer.Outcome = GenerationFailed
		answer.GenerationErr = err
		return answer
	}

	answer.Outcome = Answered
	answer.Text = text
	return answer
}

func BuildPrompt(question string, hits []Hit) string {
	var sources strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&sources, "---\nSource: %s\nURL: %s\nContent: %s\n", h.Title, h.URL, h.Text)
	}

	return fmt.Sprintf(`You are a helpful and knowledgeable software engineering assistant.
Your task is to answer the user's question using ONLY the provided context below.

Instructions:
1. Answer strictly based on the provided context.
2. If the context does not contain the answer, explicitly state: "%s"
3. Do not make up information or use outside knowledge unless necessary to explain the context.
4. Answer in the same language as the user's question.

### Context:
%s
### User Question:
%s

### Answer:
`, NoAnswer, sources.String(), question)
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return string(runes[:excerptRunes])
}

func payloadString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// payloadInt reads numbers back from any backend: Qdrant and pgvector decode
// JSON numbers, chromem stores them as strings.
func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
