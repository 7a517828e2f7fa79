package retrieval

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
	"github.com/xhad/devrag/internal/types"
	"github.com/xhad/devrag/pkg/store"
)

// keywordEmbedder maps texts onto three axes by keyword so similarity is predictable.
type keywordEmbedder struct{}

func (keywordEmbedder) vector(text string) []float32 {
	v := []float32{0.01, 0.01, 0.01}
	for i, word := range []string{"go", "rust", "python"} {
		if strings.Contains(strings.ToLower(text), word) {
			v[i] = 1
		}
	}
	return v
}

func (e keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (keywordEmbedder) Dimension() int { return 3 }

type fakeGenerator struct {
	prompts []string
	reply   string
	err     error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

type streamingGenerator struct {
	fakeGenerator
}

func (g *streamingGenerator) Stream(ctx context.Context, prompt string, fn func(string)) (string, error) {
	g.prompts = append(g.prompts, prompt)
	for _, w := range strings.SplitAfter(g.reply, " ") {
		fn(w)
	}
	return g.reply, g.err
}

func seededStore(t *testing.T) *store.ChromemStore {
	ctx := context.Background()
	s, err := store.NewChromemStore(store.ChromemConfig{})
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, "devto_articles", 3, store.MetricCosine))

	texts := map[string]string{
		"1": "Go channels " + strings.Repeat("é", 400),
		"2": "Rust ownership explained",
		"3": "Python decorators in depth",
	}
	var points []models.VectorPoint
	for id, text := range texts {
		chunk := models.Chunk{
			Text:       text,
			ArticleID:  id,
			ChunkIndex: 2,
			Metadata: models.ChunkMetadata{
				Metadata: models.Metadata{Title: "Article " + id, URL: "https://dev.to/a/" + id},
				ChunkLen: len([]rune(text)),
				Section:  "Intro",
			},
		}
		points = append(points, models.VectorPoint{
			ID:      store.PointID(id, 2),
			Vector:  keywordEmbedder{}.vector(text),
			Payload: chunk.Payload(),
		})
	}
	require.NoError(t, s.Upsert(ctx, points))
	return s
}

func newOrchestrator(t *testing.T, s *store.ChromemStore, gen types.Generator) *Orchestrator {
	cfg := Config{Collection: "devto_articles", Logger: log.New(io.Discard, "", 0)}
	o, err := New(context.Background(), cfg, keywordEmbedder{}, s, gen)
	require.NoError(t, err)
	return o
}

func TestSearch(t *testing.T) {
	o := newOrchestrator(t, seededStore(t), nil)

	hits, err := o.Search(context.Background(), "how do go channels work", 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	top := hits[0]
	assert.Equal(t, store.PointID("1", 2), top.ID)
	assert.Equal(t, "Article 1", top.Title)
	assert.Equal(t, "https://dev.to/a/1", top.URL)
	assert.Equal(t, "1", top.ArticleID)
	assert.Equal(t, 2, top.ChunkIndex)
	assert.Equal(t, "Intro", top.Section)
	assert.Len(t, []rune(top.Excerpt), 300)
	assert.True(t, strings.HasPrefix(top.Text, top.Excerpt))

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	hits, err = o.Search(context.Background(), "rust", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "2", hits[0].ArticleID)
}

func TestSearchEmptyQuestion(t *testing.T) {
	o := newOrchestrator(t, seededStore(t), nil)

	_, err := o.Search(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAnswerOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("answered", func(t *testing.T) {
		gen := &fakeGenerator{reply: "Use channels."}
		answer, err := newOrchestrator(t, seededStore(t), gen).Answer(ctx, "go channels?", 2)
		require.NoError(t, err)

		assert.Equal(t, Answered, answer.Outcome)
		assert.Equal(t, "Use channels.", answer.Text)
		assert.Len(t, answer.Hits, 2)
		require.Len(t, gen.prompts, 1)
		assert.Contains(t, gen.prompts[0], "---\nSource: Article 1\nURL: https://dev.to/a/1\nContent: Go channels")
		assert.Contains(t, gen.prompts[0], "### User Question:\ngo channels?")
	})

	t.Run("no context", func(t *testing.T) {
		empty, err := store.NewChromemStore(store.ChromemConfig{})
		require.NoError(t, err)
		gen := &fakeGenerator{reply: "unused"}

		answer, err := newOrchestrator(t, empty, gen).Answer(ctx, "anything", 3)
		require.NoError(t, err)

		assert.Equal(t, NoContext, answer.Outcome)
		assert.Equal(t, NoAnswer, answer.Text)
		assert.Empty(t, answer.Hits)
		assert.Empty(t, gen.prompts)
	})

	t.Run("retrieval only", func(t *testing.T) {
		answer, err := newOrchestrator(t, seededStore(t), nil).Answer(ctx, "python", 3)
		require.NoError(t, err)

		assert.Equal(t, RetrievalOnly, answer.Outcome)
		assert.Empty(t, answer.Text)
		assert.Len(t, answer.Hits, 3)
	})

	t.Run("generation failed", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("quota exceeded")}
		answer, err := newOrchestrator(t, seededStore(t), gen).Answer(ctx, "python", 3)
		require.NoError(t, err)

		assert.Equal(t, GenerationFailed, answer.Outcome)
		assert.Empty(t, answer.Text)
		assert.ErrorIs(t, answer.GenerationErr, apperr.ErrGeneration)
		assert.Len(t, answer.Hits, 3)
	})
}

func TestCompleteStreams(t *testing.T) {
	gen := &streamingGenerator{fakeGenerator{reply: "one two three"}}
	o := newOrchestrator(t, seededStore(t), gen)

	hits, err := o.Search(context.Background(), "go", 1)
	require.NoError(t, err)

	var chunks []string
	answer := o.Complete(context.Background(), "go", hits, func(c string) { chunks = append(chunks, c) })

	assert.Equal(t, Answered, answer.Outcome)
	assert.Equal(t, "one two three", answer.Text)
	assert.Equal(t, []string{"one ", "two ", "three"}, chunks)
}

func TestPayloadInt(t *testing.T) {
	assert.Equal(t, 4, payloadInt(map[string]any{"n": 4}, "n"))
	assert.Equal(t, 4, payloadInt(map[string]any{"n": float64(4)}, "n"))
	assert.Equal(t, 4, payloadInt(map[string]any{"n": "4"}, "n"))
	assert.Equal(t, 0, payloadInt(map[string]any{}, "n"))
}
