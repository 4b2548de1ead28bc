package pgbackend

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlotse/lotse/pkg/models"
	"github.com/openlotse/lotse/pkg/retrieval"
)

// defaultWalkDepth bounds the entity-relation traversal.
const defaultWalkDepth = 2

// GraphBackend scores documents by walking the entity-relation graph
// from the entities mentioned in the query. Relation weights decay
// multiplicatively along the walk.
type GraphBackend struct {
	pool  *pgxpool.Pool
	depth int
}

// NewGraphBackend creates the graph backend with the default walk depth.
func NewGraphBackend(pool *pgxpool.Pool) *GraphBackend {
	return &GraphBackend{pool: pool, depth: defaultWalkDepth}
}

// Method implements retrieval.Backend.
func (b *GraphBackend) Method() retrieval.Method { return retrieval.MethodGraph }

// Search implements retrieval.Backend.
func (b *GraphBackend) Search(ctx context.Context, query string, topK int) ([]models.Document, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := b.pool.Query(ctx, `
		WITH RECURSIVE walk(entity, weight, depth) AS (
			SELECT t.entity, 1.0::float8, 0
			FROM unnest($1::text[]) AS t(entity)
			UNION ALL
			SELECT r.target_entity, w.weight * r.weight, w.depth + 1
			FROM walk w
			JOIN entity_relations r ON r.source_entity = w.entity
			WHERE w.depth < $2
		),
		scores AS (
			SELECT de.document_id, SUM(de.weight * w.weight) AS score
			FROM walk w
			JOIN document_entities de ON de.entity = w.entity
			GROUP BY de.document_id
		)
		SELECT `+documentColumns+`,
			LEAST(1.0, s.score) AS score
		FROM scores s
		JOIN documents d ON d.id = s.document_id
		ORDER BY score DESC, d.id
		LIMIT $3`,
		terms, b.depth, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: graph search: %v", retrieval.ErrBackendUnavailable, err)
	}

	docs, scores, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Score.Graph = scores[i]
		docs[i].Score.HasGraph = true
		docs[i].Score.Clamp()
	}
	return docs, nil
}

// graphStopwords are query tokens that never name an entity.
var graphStopwords = map[string]bool{
	"der": true, "die": true, "das": true, "den": true, "dem": true,
	"ein": true, "eine": true, "einen": true, "einem": true, "einer": true,
	"und": true, "oder": true, "für": true, "von": true, "vom": true,
	"mit": true, "bei": true, "beim": true, "auf": true, "aus": true,
	"wie": true, "was": true, "wo": true, "wann": true, "wer": true,
	"ist": true, "sind": true, "viel": true, "lange": true, "in": true,
	"im": true, "an": true, "am": true, "zu": true, "zur": true, "zum": true,
}

// queryTerms lowercases and tokenizes the query, dropping stopwords
// and single characters.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < 2 || graphStopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
