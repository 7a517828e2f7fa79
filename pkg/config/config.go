package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Source      SourceConfig      `yaml:"source"`
	Storage     StorageConfig     `yaml:"storage"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Server      ServerConfig      `yaml:"server"`
}

type SourceConfig struct {
	BaseURL      string        `yaml:"base_url" env:"DEVRAG_SOURCE_URL"`
	Tag          string        `yaml:"tag" env:"DEVRAG_TAG"`
	Limit        int           `yaml:"limit" env:"DEVRAG_LIMIT"`
	RequestDelay time.Duration `yaml:"request_delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	DocumentBackend string `yaml:"document_backend"`
	DocumentsPath   string `yaml:"documents_path"`
	SQLitePath      string `yaml:"sqlite_path"`
	ChunksPath      string `yaml:"chunks_path"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model" env:"DEVRAG_EMBEDDING_MODEL"`
	Dimension int    `yaml:"dimension"`
	BaseURL   string `yaml:"base_url" env:"OLLAMA_BASE_URL"`
	APIKey    string `yaml:"api_key" env:"GEMINI_API_KEY"`
	BatchSize int    `yaml:"batch_size"`
}

type VectorStoreConfig struct {
	Backend      string        `yaml:"backend"`
	Collection   string        `yaml:"collection"`
	QdrantURL    string        `yaml:"qdrant_url" env:"QDRANT_URL"`
	QdrantAPIKey string        `yaml:"qdrant_api_key" env:"QDRANT_API_KEY"`
	DatabaseURL  string        `yaml:"database_url" env:"DATABASE_URL"`
	ChromemPath  string        `yaml:"chromem_path"`
	BatchSize    int           `yaml:"batch_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url" env:"OLLAMA_BASE_URL"`
	APIKey      string  `yaml:"api_key" env:"GEMINI_API_KEY"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type PipelineConfig struct {
	SkipFetch     bool `yaml:"skip_fetch"`
	SkipProcess   bool `yaml:"skip_process"`
	SkipVectorize bool `yaml:"skip_vectorize"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/devrag/config.yaml"),
			"/etc/devrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := mergeWithEnv(config); err != nil {
		return nil, err
	}

	applyDefaults(config)

	return config, nil
}

// newConfig presets the keys for which zero is a meaningful setting. The
// file is decoded over it, so only keys present in the file replace them.
func newConfig() *Config {
	return &Config{
		Processor: ProcessorConfig{ChunkOverlap: 200},
		LLM:       LLMConfig{Temperature: 0.7},
	}
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	if err := mergeWithEnv(config); err != nil {
		return nil, err
	}
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Source.BaseURL == "" {
		config.Source.BaseURL = "https://dev.to/api"
	}
	if config.Source.Tag == "" {
		config.Source.Tag = "ai"
	}
	if config.Source.Limit == 0 {
		config.Source.Limit = 20
	}
	if config.Source.RequestDelay == 0 {
		config.Source.RequestDelay = 500 * time.Millisecond
	}
	if config.Source.Timeout == 0 {
		config.Source.Timeout = 10 * time.Second
	}

	if config.Storage.DocumentBackend == "" {
		config.Storage.DocumentBackend = "json"
	}
	if config.Storage.DocumentsPath == "" {
		config.Storage.DocumentsPath = "data/raw_data.json"
	}
	if config.Storage.SQLitePath == "" {
		config.Storage.SQLitePath = "data/documents.db"
	}
	if config.Storage.ChunksPath == "" {
		config.Storage.ChunksPath = "data/processed_chunks.json"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	switch config.Embedding.Provider {
	case "gemini":
		if config.Embedding.Model == "" {
			config.Embedding.Model = "text-embedding-004"
		}
		if config.Embedding.Dimension == 0 {
			config.Embedding.Dimension = 768
		}
	default:
		if config.Embedding.Model == "" {
			config.Embedding.Model = "all-minilm"
		}
		if config.Embedding.Dimension == 0 {
			config.Embedding.Dimension = 384
		}
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 64
	}

	if config.VectorStore.Backend == "" {
		config.VectorStore.Backend = "qdrant"
	}
	if config.VectorStore.Collection == "" {
		config.VectorStore.Collection = "devto_articles"
	}
	if config.VectorStore.QdrantURL == "" {
		config.VectorStore.QdrantURL = "http://localhost:6333"
	}
	if config.VectorStore.BatchSize == 0 {
		config.VectorStore.BatchSize = 100
	}
	if config.VectorStore.Timeout == 0 {
		config.VectorStore.Timeout = 15 * time.Second
	}

	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "gemini":
			config.LLM.Model = "gemini-2.5-flash"
		case "ollama":
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
}

// mergeWithEnv applies environment overrides on top of the file values.
func mergeWithEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("error reading environment: %w", err)
	}
	return nil
}
