package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	position   INTEGER NOT NULL,
	id         TEXT PRIMARY KEY,
	crawled_at TEXT NOT NULL,
	body       TEXT NOT NULL
)`

// SQLiteDocumentStore keeps fetched articles in a SQLite database, one row per
// article with the full record stored as JSON.
type SQLiteDocumentStore struct {
	db *sql.DB
}

func NewSQLiteDocumentStore(path string) (*SQLiteDocumentStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", apperr.ErrStoreIO, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", apperr.ErrStoreIO, err)
	}
	if _, err := db.Exec(documentsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", apperr.ErrStoreIO, err)
	}

	return &SQLiteDocumentStore{db: db}, nil
}

func (s *SQLiteDocumentStore) Load(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM documents ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("%w: querying documents: %v", apperr.ErrStoreIO, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%w: scanning document: %v", apperr.ErrStoreIO, err)
		}
		var doc models.Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("%w: decoding document: %v", apperr.ErrStoreIO, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading documents: %v", apperr.ErrStoreIO, err)
	}
	return docs, nil
}

// Save replaces the stored set inside one transaction.
func (s *SQLiteDocumentStore) Save(ctx context.Context, docs []models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", apperr.ErrStoreIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("%w: clearing documents: %v", apperr.ErrStoreIO, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO documents (position, id, crawled_at, body) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: preparing insert: %v", apperr.ErrStoreIO, err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: encoding document %s: %v", apperr.ErrStoreIO, doc.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, doc.ID, doc.CrawledAt.Format(time.RFC3339), string(body)); err != nil {
			return fmt.Errorf("%w: inserting document %s: %v", apperr.ErrStoreIO, doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing documents: %v", apperr.ErrStoreIO, err)
	}
	return nil
}

func (s *SQLiteDocumentStore) Close() error {
	return s.db.Close()
}
