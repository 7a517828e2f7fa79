package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
)

// jsonFile persists a whole collection as one JSON array. Writes go to a
// temporary file that is renamed over the target.
type jsonFile[T any] struct {
	path string
	mu   sync.Mutex
}

func (f *jsonFile[T]) load() ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", apperr.ErrStoreIO, f.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", apperr.ErrStoreIO, f.path, err)
	}
	return items, nil
}

func (f *jsonFile[T]) save(items []T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", apperr.ErrStoreIO, f.path, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", apperr.ErrStoreIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", apperr.ErrStoreIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", apperr.ErrStoreIO, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", apperr.ErrStoreIO, tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", apperr.ErrStoreIO, f.path, err)
	}
	return nil
}

// JSONDocumentStore keeps fetched articles in a single JSON file.
type JSONDocumentStore struct {
	file jsonFile[models.Document]
}

func NewJSONDocumentStore(path string) *JSONDocumentStore {
	return &JSONDocumentStore{file: jsonFile[models.Document]{path: path}}
}

func (s *JSONDocumentStore) Load(ctx context.Context) ([]models.Document, error) {
	return s.file.load()
}

func (s *JSONDocumentStore) Save(ctx context.Context, docs []models.Document) error {
	return s.file.save(docs)
}

func (s *JSONDocumentStore) Close() error { return nil }

// JSONChunkStore keeps the processed chunks in a single JSON file.
type JSONChunkStore struct {
	file jsonFile[models.Chunk]
}

func NewJSONChunkStore(path string) *JSONChunkStore {
	return &JSONChunkStore{file: jsonFile[models.Chunk]{path: path}}
}

func (s *JSONChunkStore) Load(ctx context.Context) ([]models.Chunk, error) {
	return s.file.load()
}

func (s *JSONChunkStore) Save(ctx context.Context, chunks []models.Chunk) error {
	return s.file.save(chunks)
}
