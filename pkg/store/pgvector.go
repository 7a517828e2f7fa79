package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
)

type PGVectorConfig struct {
	ConnString string
	BatchSize  int
}

// PGVectorStore keeps one table per collection in Postgres with the pgvector extension.
type PGVectorStore struct {
	config PGVectorConfig
	pool   *pgxpool.Pool
	table  string
	dim    int
}

func NewPGVectorStore(ctx context.Context, config PGVectorConfig) (*PGVectorStore, error) {
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", apperr.ErrTransport, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to reach database: %v", apperr.ErrTransport, err)
	}

	return &PGVectorStore{
		config: config,
		pool:   pool,
	}, nil
}

func (vs *PGVectorStore) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	if err := checkCollection(name, dim); err != nil {
		return err
	}
	if err := checkMetric(metric); err != nil {
		return err
	}

	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: failed to create vector extension: %v", apperr.ErrTransport, err)
	}

	existing, err := vs.tableDimension(ctx, name)
	if err != nil {
		return err
	}
	if existing != 0 && existing != dim {
		return fmt.Errorf("collection %s: %w", name, apperr.Dimension(existing, dim))
	}

	table := pgx.Identifier{name}.Sanitize()
	if existing == 0 {
		createTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				article_id TEXT NOT NULL,
				chunk_index INTEGER NOT NULL,
				content TEXT,
				embedding vector(%d),
				payload JSONB
			)`, table, dim)
		if _, err := vs.pool.Exec(ctx, createTable); err != nil {
			return fmt.Errorf("%w: failed to create table: %v", apperr.ErrTransport, err)
		}

		createIndex := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s
			ON %s
			USING ivfflat (embedding vector_cosine_ops)
			WITH (lists = 100)`,
			pgx.Identifier{name + "_embedding_idx"}.Sanitize(), table)
		if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
			return fmt.Errorf("%w: failed to create index: %v", apperr.ErrTransport, err)
		}
	}

	vs.table = table
	vs.dim = dim
	return nil
}

// tableDimension returns the declared vector size of an existing table, or 0
// if the table does not exist.
func (vs *PGVectorStore) tableDimension(ctx context.Context, name string) (int, error) {
	var typmod int
	err := vs.pool.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		WHERE c.relname = $1 AND a.attname = 'embedding' AND NOT a.attisdropped`,
		name).Scan(&typmod)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to inspect table: %v", apperr.ErrTransport, err)
	}
	return typmod, nil
}

func (vs *PGVectorStore) Upsert(ctx context.Context, points []models.VectorPoint) error {
	if err := checkPoints(vs.dim, points); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, article_id, chunk_index, content, embedding, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			article_id = EXCLUDED.article_id,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload`,
		vs.table)

	for _, batch := range batches(points, vs.config.BatchSize) {
		if err := vs.upsertBatch(ctx, stmt, batch); err != nil {
			return err
		}
	}
	return nil
}

func (vs *PGVectorStore) upsertBatch(ctx context.Context, stmt string, batch []models.VectorPoint) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperr.ErrTransport, err)
	}
	defer tx.Rollback(ctx)

	for _, p := range batch {
		payload := sanitizePayload(p.Payload)
		articleID, _ := payload["article_id"].(string)
		chunkIndex, _ := payload["chunk_index"].(int)
		content, _ := payload["text"].(string)

		_, err = tx.Exec(ctx, stmt,
			p.ID,
			articleID,
			chunkIndex,
			content,
			pgvector.NewVector(p.Vector),
			payload,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to upsert point %s: %v", apperr.ErrTransport, p.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", apperr.ErrTransport, err)
	}
	return nil
}

func (vs *PGVectorStore) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]models.ScoredPoint, error) {
	if err := checkQuery(vs.dim, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	args := []any{pgvector.NewVector(vector), k}
	var where []string
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, key, filter[key])
		where = append(where, fmt.Sprintf("payload->>$%d = $%d", len(args)-1, len(args)))
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, payload, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		vs.table, whereClause)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query points: %v", apperr.ErrTransport, err)
	}
	defer rows.Close()

	var results []models.ScoredPoint
	for rows.Next() {
		var (
			p     models.ScoredPoint
			score float64
		)
		if err := rows.Scan(&p.ID, &p.Payload, &score); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", apperr.ErrTransport, err)
		}
		p.Score = float32(score)
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read rows: %v", apperr.ErrTransport, err)
	}

	return rank(results, k), nil
}

func (vs *PGVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizePayload(payload map[string]any) map[string]any {
	clean := make(map[string]any, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			v = sanitizeUTF8(s)
		}
		clean[k] = v
	}
	return clean
}

// Postgres rejects invalid UTF-8 in text and jsonb columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
