package pgbackend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openlotse/lotse/pkg/database"
	"github.com/openlotse/lotse/pkg/models"
	"github.com/openlotse/lotse/pkg/retrieval"
)

var (
	sharedDSN     string
	containerOnce sync.Once
	containerErr  error
)

// sharedDatabase starts one pgvector-enabled Postgres container for the
// whole package. Skipped with -short.
func sharedDatabase(t *testing.T) string {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg17",
			postgres.WithDatabase("lotse_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("get connection string: %w", err)
			return
		}
		sharedDSN = dsn
	})
	require.NoError(t, containerErr)
	return sharedDSN
}

// stubEmbedder serves fixed vectors per text, padded to 768 dims.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := e.vectors[text]
	if !ok {
		v = []float32{0, 0, 1}
	}
	return pad768(v), nil
}

func pad768(v []float32) []float32 {
	out := make([]float32, 768)
	copy(out, v)
	return out
}

func seedStore(t *testing.T, ctx context.Context, store *Store) {
	t.Helper()

	now := time.Now().UTC()
	docs := []struct {
		doc       models.Document
		embedding []float32
	}{
		{
			doc: models.Document{
				ID:         "bauantrag-merkblatt",
				Title:      "Merkblatt Bauantrag Stuttgart",
				Content:    "Der Bauantrag ist beim Baurechtsamt Stuttgart einzureichen. Die Gebühr beträgt 400 Euro.",
				SourceType: models.SourceFile,
				CreatedAt:  &now,
				PageCount:  2,
				Tags:       []string{"bauen", "stuttgart"},
				Metadata:   map[string]any{"amt": "Baurechtsamt"},
			},
			embedding: []float32{1, 0, 0},
		},
		{
			doc: models.Document{
				ID:         "gewerbe-anmeldung",
				Title:      "Gewerbeanmeldung Leitfaden",
				Content:    "Die Gewerbeanmeldung erfolgt beim Gewerbeamt. Mitzubringen ist der Personalausweis.",
				SourceType: models.SourceFile,
				Tags:       []string{"gewerbe"},
			},
			embedding: []float32{0, 1, 0},
		},
		{
			doc: models.Document{
				ID:         "gmbh-gruendung",
				Title:      "GmbH Gründung",
				Content:    "Die Gründung einer GmbH erfordert einen notariellen Gesellschaftsvertrag und 25000 Euro Stammkapital.",
				SourceType: models.SourceDatabase,
			},
			embedding: []float32{0.9, 0.1, 0},
		},
	}
	for _, d := range docs {
		require.NoError(t, store.InsertDocument(ctx, d.doc, d.embedding))
	}

	require.NoError(t, store.AddEntity(ctx, "bauantrag-merkblatt", "bauantrag", 1.0))
	require.NoError(t, store.AddEntity(ctx, "bauantrag-merkblatt", "baurechtsamt", 0.8))
	require.NoError(t, store.AddEntity(ctx, "gewerbe-anmeldung", "gewerbeamt", 1.0))
	require.NoError(t, store.AddEntity(ctx, "gmbh-gruendung", "gmbh", 1.0))
	// bauantrag relates to the office handling it.
	require.NoError(t, store.AddRelation(ctx, "bauantrag", "baurechtsamt", 0.9))
}

func setupBackends(t *testing.T) (*Store, *database.Client) {
	t.Helper()
	ctx := context.Background()

	client, err := database.NewClientDSN(ctx, sharedDatabase(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = client.Pool().Exec(context.Background(),
			`TRUNCATE documents, document_entities, entity_relations CASCADE`)
		client.Close()
	})

	store := NewStore(client.Pool())
	seedStore(t, ctx, store)
	return store, client
}

func TestVectorBackendIntegration(t *testing.T) {
	_, client := setupBackends(t)
	ctx := context.Background()

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"Bauantrag Stuttgart": {1, 0, 0},
	}}
	backend := NewVectorBackend(client.Pool(), embedder)

	docs, err := backend.Search(ctx, "Bauantrag Stuttgart", 3)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	// Exact embedding match ranks first with similarity ~1.
	assert.Equal(t, "bauantrag-merkblatt", docs[0].ID)
	assert.True(t, docs[0].Score.HasSemantic)
	assert.InDelta(t, 1.0, docs[0].Score.Semantic, 0.01)
	assert.Equal(t, models.SourceFile, docs[0].SourceType)
	assert.Equal(t, []string{"bauen", "stuttgart"}, docs[0].Tags)
	assert.Equal(t, "Baurechtsamt", docs[0].Metadata["amt"])

	// The near-parallel embedding ranks second.
	require.Greater(t, len(docs), 1)
	assert.Equal(t, "gmbh-gruendung", docs[1].ID)
	assert.Greater(t, docs[0].Score.Semantic, docs[1].Score.Semantic)
}

func TestFulltextBackendIntegration(t *testing.T) {
	_, client := setupBackends(t)
	ctx := context.Background()

	backend := NewFulltextBackend(client.Pool())

	docs, err := backend.Search(ctx, "Gewerbeanmeldung Personalausweis", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "gewerbe-anmeldung", docs[0].ID)
	assert.True(t, docs[0].Score.HasKeyword)
	assert.Greater(t, docs[0].Score.Keyword, 0.0)
	assert.Less(t, docs[0].Score.Keyword, 1.0)

	// German stemming matches inflected forms.
	docs, err = backend.Search(ctx, "Gründung GmbH", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "gmbh-gruendung", docs[0].ID)

	// No hits is an empty result, not an error.
	docs, err = backend.Search(ctx, "Quantenphysik", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGraphBackendIntegration(t *testing.T) {
	_, client := setupBackends(t)
	ctx := context.Background()

	backend := NewGraphBackend(client.Pool())

	// Direct entity hit.
	docs, err := backend.Search(ctx, "Bauantrag einreichen", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "bauantrag-merkblatt", docs[0].ID)
	assert.True(t, docs[0].Score.HasGraph)
	assert.LessOrEqual(t, docs[0].Score.Graph, 1.0)

	// Stopword-only query yields nothing.
	docs, err = backend.Search(ctx, "wie ist das", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestHybridSearchIntegration(t *testing.T) {
	_, client := setupBackends(t)
	ctx := context.Background()

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"Bauantrag Stuttgart Gebühr": {1, 0, 0},
	}}
	engine := retrieval.NewEngine([]retrieval.Backend{
		NewVectorBackend(client.Pool(), embedder),
		NewFulltextBackend(client.Pool()),
		NewGraphBackend(client.Pool()),
	}, nil, 10*time.Second, slog.Default())

	res, err := engine.HybridSearch(ctx, "Bauantrag Stuttgart Gebühr", retrieval.DefaultSearchOptions())
	require.NoError(t, err)
	require.NotEmpty(t, res.Documents)
	assert.Len(t, res.MethodsUsed, 3)

	// The document every method agrees on wins the fusion.
	top := res.Documents[0]
	assert.Equal(t, "bauantrag-merkblatt", top.ID)
	assert.True(t, top.Score.HasSemantic)
	assert.True(t, top.Score.HasKeyword)
	assert.True(t, top.Score.HasGraph)
	assert.Greater(t, top.Score.Fused, 0.5)
}

func TestDatabaseHealthIntegration(t *testing.T) {
	_, client := setupBackends(t)

	status, err := database.Health(context.Background(), client.Pool())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Positive(t, status.MaxConns)
}
