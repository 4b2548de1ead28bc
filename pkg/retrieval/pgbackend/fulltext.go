package pgbackend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlotse/lotse/pkg/models"
	"github.com/openlotse/lotse/pkg/retrieval"
)

// FulltextBackend scores documents with PostgreSQL full-text search
// over the generated tsvector column.
type FulltextBackend struct {
	pool *pgxpool.Pool
}

// NewFulltextBackend creates the keyword backend.
func NewFulltextBackend(pool *pgxpool.Pool) *FulltextBackend {
	return &FulltextBackend{pool: pool}
}

// Method implements retrieval.Backend.
func (b *FulltextBackend) Method() retrieval.Method { return retrieval.MethodKeyword }

// Search implements retrieval.Backend. ts_rank_cd is unbounded, so the
// rank r is squashed to r/(r+1) to land in [0,1).
func (b *FulltextBackend) Search(ctx context.Context, query string, topK int) ([]models.Document, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT `+documentColumns+`,
			ts_rank_cd(d.content_tsv, q.tsq) AS rank
		FROM documents d,
			(SELECT websearch_to_tsquery('german', $1) AS tsq) q
		WHERE d.content_tsv @@ q.tsq
		ORDER BY rank DESC, d.id
		LIMIT $2`,
		query, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: full-text search: %v", retrieval.ErrBackendUnavailable, err)
	}

	docs, ranks, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		rank := ranks[i]
		docs[i].Score.Keyword = rank / (rank + 1)
		docs[i].Score.HasKeyword = true
		docs[i].Score.Clamp()
	}
	return docs, nil
}
