package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Source
	if !validURL(c.Source.BaseURL) {
		add("source.base_url", "invalid source URL")
	}
	if c.Source.Tag == "" {
		add("source.tag", "tag is required")
	}
	if c.Source.Limit < 1 {
		add("source.limit", "limit must be positive")
	}
	if c.Source.RequestDelay < 0 {
		add("source.request_delay", "request_delay cannot be negative")
	}
	if c.Source.Timeout <= 0 {
		add("source.timeout", "timeout must be positive")
	}

	// Storage
	switch c.Storage.DocumentBackend {
	case "json":
		if c.Storage.DocumentsPath == "" {
			add("storage.documents_path", "documents_path is required for the json backend")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			add("storage.sqlite_path", "sqlite_path is required for the sqlite backend")
		}
	default:
		add("storage.document_backend", fmt.Sprintf("unknown document backend: %s", c.Storage.DocumentBackend))
	}
	if c.Storage.ChunksPath == "" {
		add("storage.chunks_path", "chunks_path is required")
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}
	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Embedding
	switch c.Embedding.Provider {
	case "ollama":
		if !validURL(c.Embedding.BaseURL) {
			add("embedding.base_url", "invalid Ollama base URL")
		}
	case "gemini":
		if c.Embedding.APIKey == "" {
			add("embedding.api_key", "Gemini API key is required")
		}
	default:
		add("embedding.provider", fmt.Sprintf("unknown embedding provider: %s", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 1 {
		add("embedding.dimension", "dimension must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}

	// Vector store
	switch c.VectorStore.Backend {
	case "qdrant":
		if !validURL(c.VectorStore.QdrantURL) {
			add("vector_store.qdrant_url", "invalid Qdrant URL")
		}
	case "pgvector":
		if c.VectorStore.DatabaseURL == "" {
			add("vector_store.database_url", "database_url is required for the pgvector backend")
		} else if _, err := url.Parse(c.VectorStore.DatabaseURL); err != nil {
			add("vector_store.database_url", "invalid database URL")
		}
	case "chromem":
	default:
		add("vector_store.backend", fmt.Sprintf("unknown vector store backend: %s", c.VectorStore.Backend))
	}
	if c.VectorStore.Collection == "" {
		add("vector_store.collection", "collection is required")
	}
	if c.VectorStore.BatchSize < 1 {
		add("vector_store.batch_size", "batch_size must be positive")
	}

	// LLM
	switch c.LLM.Provider {
	case "ollama":
		if !validURL(c.LLM.BaseURL) {
			add("llm.base_url", "invalid Ollama base URL")
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "Gemini API key is required")
		}
	case "none":
	default:
		add("llm.provider", fmt.Sprintf("unknown llm provider: %s", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	if c.Retrieval.TopK < 1 {
		add("retrieval.top_k", "top_k must be positive")
	}

	return errors
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
