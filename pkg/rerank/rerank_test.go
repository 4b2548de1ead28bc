package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlotse/lotse/pkg/llm"
	"github.com/openlotse/lotse/pkg/models"
)

// scriptedClient returns canned responses per call, or an error.
type scriptedClient struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (c *scriptedClient) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.prompts = append(c.prompts, req.Prompt)
	if c.err != nil {
		return nil, c.err
	}
	resp := c.responses[c.calls%len(c.responses)]
	c.calls++
	return &llm.Response{Content: resp}, nil
}

func docWithFused(id string, fused float64) models.Document {
	return models.Document{
		ID:      id,
		Title:   "Doc " + id,
		Content: "Inhalt von Dokument " + id,
		Score:   models.RelevanceScore{Fused: fused},
	}
}

func TestRerankCombinedMode(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"```json\n[{\"id\":\"a\",\"relevance\":0.2,\"quality\":0.2},{\"id\":\"b\",\"relevance\":1.0,\"quality\":1.0}]\n```",
	}}
	svc := NewService(client, DefaultConfig(), slog.Default())

	docs := []models.Document{docWithFused("a", 0.9), docWithFused("b", 0.5)}
	results := svc.Rerank(context.Background(), "Bauantrag Kosten", docs, 0)
	require.Len(t, results, 2)

	// b: (1-0.6)*0.5 + 0.6*1.0 = 0.8 beats a: 0.4*0.9 + 0.6*0.2 = 0.48.
	assert.Equal(t, "b", results[0].Document.ID)
	assert.InDelta(t, 0.8, results[0].RerankedScore, 1e-9)
	assert.InDelta(t, 0.3, results[0].ScoreDelta, 1e-9)
	assert.Equal(t, models.ConfidenceHigh, results[0].Confidence)

	assert.Equal(t, "a", results[1].Document.ID)
	assert.InDelta(t, 0.48, results[1].RerankedScore, 1e-9)
	assert.InDelta(t, -0.42, results[1].ScoreDelta, 1e-9)
}

func TestRerankModeSelection(t *testing.T) {
	response := `[{"id":"a","relevance":0.9,"quality":0.1}]`
	doc := docWithFused("a", 0.0)

	t.Run("relevance only", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = ModeRelevance
		cfg.CombineWeight = 1.0
		svc := NewService(&scriptedClient{responses: []string{response}}, cfg, slog.Default())
		results := svc.Rerank(context.Background(), "q", []models.Document{doc}, 0)
		assert.InDelta(t, 0.9, results[0].RerankedScore, 1e-9)
	})

	t.Run("quality only", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = ModeQuality
		cfg.CombineWeight = 1.0
		svc := NewService(&scriptedClient{responses: []string{response}}, cfg, slog.Default())
		results := svc.Rerank(context.Background(), "q", []models.Document{doc}, 0)
		assert.InDelta(t, 0.1, results[0].RerankedScore, 1e-9)
	})
}

func TestRerankBatching(t *testing.T) {
	// Each response echoes perfect scores for any batch members it names.
	client := &scriptedClient{responses: []string{
		`[{"id":"a","relevance":1,"quality":1},{"id":"b","relevance":1,"quality":1}]`,
		`[{"id":"c","relevance":1,"quality":1}]`,
	}}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	svc := NewService(client, cfg, slog.Default())

	docs := []models.Document{docWithFused("a", 0.5), docWithFused("b", 0.5), docWithFused("c", 0.5)}
	results := svc.Rerank(context.Background(), "q", docs, 0)
	require.Len(t, results, 3)
	assert.Equal(t, 2, client.calls)

	// The prompt carries id, title and excerpt per batch member.
	assert.Contains(t, client.prompts[0], "id: a")
	assert.Contains(t, client.prompts[0], "id: b")
	assert.False(t, strings.Contains(client.prompts[0], "id: c"))
}

func TestRerankLLMFailureKeepsOriginalOrder(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	svc := NewService(client, DefaultConfig(), slog.Default())

	docs := []models.Document{docWithFused("a", 0.9), docWithFused("b", 0.7), docWithFused("c", 0.5)}
	results := svc.Rerank(context.Background(), "q", docs, 0)
	require.Len(t, results, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, results[i].Document.ID)
		assert.Equal(t, docs[i].Score.Fused, results[i].RerankedScore)
		assert.Zero(t, results[i].ScoreDelta)
	}
}

func TestRerankGarbageResponseKeepsFusedScores(t *testing.T) {
	client := &scriptedClient{responses: []string{"I cannot rate these documents."}}
	svc := NewService(client, DefaultConfig(), slog.Default())

	docs := []models.Document{docWithFused("a", 0.6)}
	results := svc.Rerank(context.Background(), "q", docs, 0)
	require.Len(t, results, 1)
	assert.Equal(t, 0.6, results[0].RerankedScore)
}

func TestRerankUnscoredDocumentKeepsFused(t *testing.T) {
	// Judge only scores "a"; "b" keeps its fused score.
	client := &scriptedClient{responses: []string{`[{"id":"a","relevance":1,"quality":1}]`}}
	svc := NewService(client, DefaultConfig(), slog.Default())

	docs := []models.Document{docWithFused("a", 0.2), docWithFused("b", 0.7)}
	results := svc.Rerank(context.Background(), "q", docs, 0)
	require.Len(t, results, 2)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.Document.ID] = r
	}
	assert.InDelta(t, 0.4*0.2+0.6*1.0, byID["a"].RerankedScore, 1e-9)
	assert.Equal(t, 0.7, byID["b"].RerankedScore)
	assert.Zero(t, byID["b"].ScoreDelta)
}

func TestRerankTieBreakAndTopK(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`[{"id":"z","relevance":0.5,"quality":0.5},{"id":"a","relevance":0.5,"quality":0.5},{"id":"m","relevance":0.1,"quality":0.1}]`,
	}}
	cfg := DefaultConfig()
	cfg.CombineWeight = 1.0
	svc := NewService(client, cfg, slog.Default())

	docs := []models.Document{docWithFused("z", 0), docWithFused("a", 0), docWithFused("m", 0)}
	results := svc.Rerank(context.Background(), "q", docs, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.ID)
	assert.Equal(t, "z", results[1].Document.ID)
}

func TestApplyWritesRerankedScoreIntoFused(t *testing.T) {
	client := &scriptedClient{responses: []string{`[{"id":"a","relevance":1,"quality":1}]`}}
	cfg := DefaultConfig()
	cfg.CombineWeight = 1.0
	svc := NewService(client, cfg, slog.Default())

	out, err := svc.Apply(context.Background(), "q", []models.Document{docWithFused("a", 0.3)}, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Score.Fused, 1e-9)
}

func TestRerankEmptyInput(t *testing.T) {
	svc := NewService(&scriptedClient{responses: []string{"[]"}}, DefaultConfig(), slog.Default())
	assert.Empty(t, svc.Rerank(context.Background(), "q", nil, 5))
}

func TestRerankScoresClamped(t *testing.T) {
	client := &scriptedClient{responses: []string{fmt.Sprintf(`[{"id":"a","relevance":%v,"quality":%v}]`, 3.0, 3.0)}}
	cfg := DefaultConfig()
	cfg.CombineWeight = 1.0
	svc := NewService(client, cfg, slog.Default())

	results := svc.Rerank(context.Background(), "q", []models.Document{docWithFused("a", 0.5)}, 0)
	assert.Equal(t, 1.0, results[0].RerankedScore)
}
