package pgbackend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlotse/lotse/pkg/models"
	"github.com/openlotse/lotse/pkg/retrieval"
)

// Embedder turns text into the vector the documents were embedded with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorBackend scores documents by cosine similarity between the
// query embedding and the stored pgvector embedding.
type VectorBackend struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewVectorBackend creates the semantic backend.
func NewVectorBackend(pool *pgxpool.Pool, embedder Embedder) *VectorBackend {
	return &VectorBackend{pool: pool, embedder: embedder}
}

// Method implements retrieval.Backend.
func (b *VectorBackend) Method() retrieval.Method { return retrieval.MethodSemantic }

// Search implements retrieval.Backend. Cosine distance is mapped to a
// similarity in [0,1].
func (b *VectorBackend) Search(ctx context.Context, query string, topK int) ([]models.Document, error) {
	embedding, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", retrieval.ErrBackendUnavailable, err)
	}

	rows, err := b.pool.Query(ctx, `
		SELECT `+documentColumns+`,
			GREATEST(0, 1 - (d.embedding <=> $1::vector)) AS score
		FROM documents d
		WHERE d.embedding IS NOT NULL
		ORDER BY d.embedding <=> $1::vector, d.id
		LIMIT $2`,
		VectorLiteral(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", retrieval.ErrBackendUnavailable, err)
	}

	docs, scores, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Score.Semantic = scores[i]
		docs[i].Score.HasSemantic = true
		docs[i].Score.Clamp()
	}
	return docs, nil
}
