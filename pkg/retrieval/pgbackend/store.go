// Package pgbackend implements the three retrieval backends on a
// single PostgreSQL document store: pgvector cosine similarity for the
// semantic method, full-text search for the keyword method, and an
// entity-relation walk for the graph method.
package pgbackend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlotse/lotse/pkg/models"
)

// Store ingests documents and their graph annotations. The backends
// only read; ingestion tooling and tests write through the store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertDocument upserts a document, optionally with its embedding.
func (s *Store) InsertDocument(ctx context.Context, doc models.Document, embedding []float32) error {
	var embeddingLiteral *string
	if len(embedding) > 0 {
		lit := VectorLiteral(embedding)
		embeddingLiteral = &lit
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents
			(id, title, content, source_type, file_path, author, created_at,
			 modified_at, page_count, size_bytes, mime_type, language, tags,
			 metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::vector)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			source_type = EXCLUDED.source_type,
			modified_at = EXCLUDED.modified_at,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`,
		doc.ID, doc.Title, doc.Content, string(doc.SourceType), nullable(doc.FilePath),
		nullable(doc.Author), doc.CreatedAt, doc.ModifiedAt, doc.PageCount,
		doc.SizeBytes, nullable(doc.MimeType), orDefault(doc.Language, "de"),
		doc.Tags, doc.Metadata, embeddingLiteral)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// AddEntity links an entity to a document with a weight.
func (s *Store) AddEntity(ctx context.Context, documentID, entity string, weight float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_entities (document_id, entity, weight)
		VALUES ($1, lower($2), $3)
		ON CONFLICT (document_id, entity) DO UPDATE SET weight = EXCLUDED.weight`,
		documentID, entity, weight)
	if err != nil {
		return fmt.Errorf("add entity %s to %s: %w", entity, documentID, err)
	}
	return nil
}

// AddRelation records a directed entity relation with a weight.
func (s *Store) AddRelation(ctx context.Context, source, target string, weight float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_relations (source_entity, target_entity, weight)
		VALUES (lower($1), lower($2), $3)
		ON CONFLICT (source_entity, target_entity) DO UPDATE SET weight = EXCLUDED.weight`,
		source, target, weight)
	if err != nil {
		return fmt.Errorf("add relation %s→%s: %w", source, target, err)
	}
	return nil
}

// VectorLiteral renders an embedding in pgvector's input syntax.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// documentColumns is the shared select list for all backends.
const documentColumns = `d.id, d.title, d.content, d.source_type,
	COALESCE(d.file_path, ''), COALESCE(d.author, ''), d.created_at,
	d.modified_at, d.page_count, d.size_bytes, COALESCE(d.mime_type, ''),
	d.language, d.tags, d.metadata`

// scanDocuments reads documents plus a trailing score column.
func scanDocuments(rows pgx.Rows) ([]models.Document, []float64, error) {
	defer rows.Close()

	var docs []models.Document
	var scores []float64
	for rows.Next() {
		var doc models.Document
		var sourceType string
		var score float64
		if err := rows.Scan(
			&doc.ID, &doc.Title, &doc.Content, &sourceType, &doc.FilePath,
			&doc.Author, &doc.CreatedAt, &doc.ModifiedAt, &doc.PageCount,
			&doc.SizeBytes, &doc.MimeType, &doc.Language, &doc.Tags,
			&doc.Metadata, &score,
		); err != nil {
			return nil, nil, fmt.Errorf("scan document row: %w", err)
		}
		doc.SourceType = models.ParseSourceType(sourceType)
		docs = append(docs, doc)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return docs, scores, nil
}
