package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
	"github.com/xhad/devrag/internal/types"
	"github.com/xhad/devrag/pkg/config"
	"github.com/xhad/devrag/pkg/fetcher"
	"github.com/xhad/devrag/pkg/llm"
	"github.com/xhad/devrag/pkg/processor"
	"github.com/xhad/devrag/pkg/retrieval"
	"github.com/xhad/devrag/pkg/store"
)

const (
	StageFetch     = "fetch"
	StageProcess   = "process"
	StageVectorize = "vectorize"
)

// Components are the collaborators a Pipeline runs against. Generator may be
// nil, which limits answers to retrieval only.
type Components struct {
	Documents types.DocumentStore
	Chunks    types.ChunkStore
	Embedder  types.Embedder
	Store     types.VectorStore
	Generator types.Generator
}

// Pipeline owns the components for one run and releases them on Close.
type Pipeline struct {
	config     *config.Config
	components Components
	fetcher    *fetcher.Fetcher
	processor  *processor.Processor
	logger     *log.Logger
	closers    []io.Closer

	// OnProgress is called as items complete. total is -1 while unknown.
	OnProgress func(stage string, done, total int)
}

type Report struct {
	Stages    []string
	Fetch     *fetcher.Report
	Documents int
	Chunks    int
	Points    int

	// VectorizeFailures holds chunks the embedder rejected, keyed by point id.
	VectorizeFailures []apperr.ItemError
}

// Build validates cfg and connects every backend it names.
func Build(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("%w: %s", apperr.ErrValidation, strings.Join(msgs, "; "))
	}

	var closers []io.Closer
	fail := func(err error) (*Pipeline, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}

	var c Components
	switch cfg.Storage.DocumentBackend {
	case "sqlite":
		docs, err := store.NewSQLiteDocumentStore(cfg.Storage.SQLitePath)
		if err != nil {
			return fail(err)
		}
		c.Documents = docs
	default:
		c.Documents = store.NewJSONDocumentStore(cfg.Storage.DocumentsPath)
	}
	closers = append(closers, c.Documents)
	c.Chunks = store.NewJSONChunkStore(cfg.Storage.ChunksPath)

	embedder, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return fail(err)
	}
	c.Embedder = embedder
	closers = append(closers, embedder)

	vs, err := newVectorStore(ctx, cfg.VectorStore)
	if err != nil {
		return fail(err)
	}
	c.Store = vs
	closers = append(closers, closerFunc(func() error { vs.Close(); return nil }))

	switch cfg.LLM.Provider {
	case "ollama":
		chat, err := llm.NewWithConfig(llm.ChatConfig{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			BaseURL:     cfg.LLM.BaseURL,
		})
		if err != nil {
			return fail(err)
		}
		c.Generator = chat
	case "gemini":
		gen, err := llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
		if err != nil {
			return fail(err)
		}
		c.Generator = gen
		closers = append(closers, gen)
	}

	p, err := New(cfg, c)
	if err != nil {
		return fail(err)
	}
	p.closers = closers
	return p, nil
}

func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig) (types.VectorStore, error) {
	switch cfg.Backend {
	case "pgvector":
		return store.NewPGVectorStore(ctx, store.PGVectorConfig{
			ConnString: cfg.DatabaseURL,
			BatchSize:  cfg.BatchSize,
		})
	case "chromem":
		return store.NewChromemStore(store.ChromemConfig{Path: cfg.ChromemPath, Compress: cfg.ChromemPath != ""})
	case "qdrant":
		return store.NewQdrantStore(store.QdrantConfig{
			URL:       cfg.QdrantURL,
			APIKey:    cfg.QdrantAPIKey,
			Timeout:   cfg.Timeout,
			BatchSize: cfg.BatchSize,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown vector store backend %q", apperr.ErrValidation, cfg.Backend)
}

// New assembles a Pipeline from components that are already connected. The
// caller keeps ownership of them.
func New(cfg *config.Config, c Components) (*Pipeline, error) {
	if c.Documents == nil || c.Chunks == nil || c.Embedder == nil || c.Store == nil {
		return nil, fmt.Errorf("%w: pipeline needs document, chunk and vector stores and an embedder", apperr.ErrValidation)
	}

	p := &Pipeline{
		config:     cfg,
		components: c,
		logger:     log.Default(),
	}

	attempted := 0
	f, err := fetcher.NewWithConfig(fetcher.FetcherConfig{
		BaseURL:      cfg.Source.BaseURL,
		RequestDelay: cfg.Source.RequestDelay,
		Timeout:      cfg.Source.Timeout,
		OnProgress: func(string) {
			attempted++
			p.progress(StageFetch, attempted, -1)
		},
	}, c.Documents)
	if err != nil {
		return nil, err
	}
	p.fetcher = f

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}
	p.processor = proc

	return p, nil
}

func (p *Pipeline) Components() Components {
	return p.components
}

// Retriever returns an orchestrator over the pipeline's collection.
func (p *Pipeline) Retriever(ctx context.Context) (*retrieval.Orchestrator, error) {
	return retrieval.New(ctx, retrieval.Config{
		Collection: p.config.VectorStore.Collection,
		TopK:       p.config.Retrieval.TopK,
	}, p.components.Embedder, p.components.Store, p.components.Generator)
}

// Run executes fetch, process and vectorize in order, honouring the skip
// flags. It stops at the first failing stage with a *apperr.StageError; the
// report covers the stages that completed.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	flags := p.config.Pipeline

	stages := []struct {
		name string
		skip bool
		run  func(context.Context, *Report) error
	}{
		{StageFetch, flags.SkipFetch, p.fetch},
		{StageProcess, flags.SkipProcess, p.process},
		{StageVectorize, flags.SkipVectorize, p.vectorize},
	}

	for _, stage := range stages {
		if stage.skip {
			p.logger.Printf("Skipping %s stage", stage.name)
			continue
		}
		if err := stage.run(ctx, report); err != nil {
			return report, &apperr.StageError{Stage: stage.name, Err: err}
		}
		report.Stages = append(report.Stages, stage.name)
	}
	return report, nil
}

func (p *Pipeline) fetch(ctx context.Context, report *Report) error {
	r, err := p.fetcher.Fetch(ctx, p.config.Source.Tag, p.config.Source.Limit)
	report.Fetch = r
	return err
}

func (p *Pipeline) process(ctx context.Context, report *Report) error {
	docs, err := p.components.Documents.Load(ctx)
	if err != nil {
		return err
	}
	report.Documents = len(docs)

	var chunks []models.Chunk
	for i, doc := range docs {
		chunks = append(chunks, p.processor.Process([]models.Document{doc})...)
		p.progress(StageProcess, i+1, len(docs))
	}
	if err := p.components.Chunks.Save(ctx, chunks); err != nil {
		return err
	}

	report.Chunks = len(chunks)
	p.logger.Printf("Processed %d documents into %d chunks", len(docs), len(chunks))
	return nil
}

func (p *Pipeline) vectorize(ctx context.Context, report *Report) error {
	chunks, err := p.components.Chunks.Load(ctx)
	if err != nil {
		return err
	}

	embedder, vs := p.components.Embedder, p.components.Store
	if err := vs.EnsureCollection(ctx, p.config.VectorStore.Collection, embedder.Dimension(), store.MetricCosine); err != nil {
		return err
	}

	batchSize := p.config.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		points, err := p.embedBatch(ctx, batch, report)
		if err != nil {
			return err
		}
		if len(points) > 0 {
			if err := vs.Upsert(ctx, points); err != nil {
				return err
			}
		}

		report.Points += len(points)
		p.progress(StageVectorize, end, len(chunks))
	}

	if n := len(report.VectorizeFailures); n > 0 {
		p.logger.Printf("Skipped %d chunks the embedder rejected", n)
	}
	p.logger.Printf("Upserted %d points into %s", report.Points, p.config.VectorStore.Collection)
	return nil
}

// embedBatch embeds a batch in one call. If the call fails for any reason other
// than a dimension mismatch or a cancelled context, it retries the chunks one
// at a time and records those that still fail in report.
func (p *Pipeline) embedBatch(ctx context.Context, batch []models.Chunk, report *Report) ([]models.VectorPoint, error) {
	embedder := p.components.Embedder

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) != len(batch) {
		err = fmt.Errorf("%w: got %d embeddings for %d chunks", apperr.ErrTransport, len(vectors), len(batch))
	}
	if err == nil {
		points := make([]models.VectorPoint, len(batch))
		for i, c := range batch {
			points[i] = chunkPoint(c, vectors[i])
		}
		return points, nil
	}
	if errors.Is(err, apperr.ErrDimensionMismatch) || ctx.Err() != nil {
		return nil, err
	}

	points := make([]models.VectorPoint, 0, len(batch))
	for _, c := range batch {
		id := store.PointID(c.ArticleID, c.ChunkIndex)
		vecs, err := embedder.EmbedDocuments(ctx, []string{c.Text})
		if err == nil && len(vecs) != 1 {
			err = fmt.Errorf("%w: got %d embeddings for 1 chunk", apperr.ErrTransport, len(vecs))
		}
		if err != nil {
			if errors.Is(err, apperr.ErrDimensionMismatch) || ctx.Err() != nil {
				return nil, err
			}
			p.logger.Printf("Error embedding chunk %d of article %s: %v", c.ChunkIndex, c.ArticleID, err)
			report.VectorizeFailures = append(report.VectorizeFailures, apperr.ItemError{ID: id, Err: err})
			continue
		}
		points = append(points, chunkPoint(c, vecs[0]))
	}
	return points, nil
}

func chunkPoint(c models.Chunk, vector []float32) models.VectorPoint {
	return models.VectorPoint{
		ID:      store.PointID(c.ArticleID, c.ChunkIndex),
		Vector:  vector,
		Payload: c.Payload(),
	}
}

func (p *Pipeline) progress(stage string, done, total int) {
	if p.OnProgress != nil {
		p.OnProgress(stage, done, total)
	}
}

// Close releases everything Build acquired.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
