package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlotse/lotse/pkg/models"
	"github.com/openlotse/lotse/pkg/plan"
	"github.com/openlotse/lotse/pkg/retrieval"
)

type fakeSearcher struct {
	docs    []models.Document
	err     error
	queries []string
	opts    []retrieval.SearchOptions
}

func (f *fakeSearcher) HybridSearch(_ context.Context, query string, opts retrieval.SearchOptions) (*retrieval.SearchResult, error) {
	f.queries = append(f.queries, query)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.SearchResult{Query: query, Documents: f.docs}, nil
}

func fusedDoc(id, title, content string, fused float64) models.Document {
	return models.Document{ID: id, Title: title, Content: content, Score: models.RelevanceScore{Fused: fused}}
}

func searchStep(t *testing.T) *plan.Step {
	t.Helper()
	return plan.NewStep("step_1", "Search documents", "Search for documents answering: Bauantrag Stuttgart", plan.KindSearch)
}

func TestExecuteSuccess(t *testing.T) {
	searcher := &fakeSearcher{docs: []models.Document{
		fusedDoc("a", "Merkblatt Bauantrag", "Der Bauantrag ist beim Bauamt einzureichen.", 0.9),
		fusedDoc("b", "Gebührenordnung", "Die Gebühr beträgt 400 Euro.", 0.6),
	}}
	exec := New(searcher, DefaultConfig(), slog.Default())
	step := searchStep(t)

	var progressMsgs []string
	result := exec.Execute(context.Background(), step, DefaultOptions(), func(_ float64, msg string, _ map[string]any) {
		progressMsgs = append(progressMsgs, msg)
	})

	assert.True(t, result.Success)
	assert.Equal(t, plan.StatusCompleted, step.Status)
	require.NotNil(t, step.Result)
	assert.NotNil(t, step.StartedAt)
	assert.NotNil(t, step.CompletedAt)

	assert.Equal(t, []string{"Merkblatt Bauantrag", "Gebührenordnung"}, result.Data["document_titles"])
	assert.Contains(t, result.Data["context"], "Merkblatt Bauantrag")

	require.Len(t, result.Citations, 2)
	assert.Equal(t, "a", result.Citations[0].DocumentID)
	assert.Equal(t, models.ConfidenceHigh, result.Citations[0].Confidence)
	assert.Equal(t, models.ConfidenceMedium, result.Citations[1].Confidence)

	require.Len(t, progressMsgs, 1)
	assert.Contains(t, progressMsgs[0], "retrieved 2 documents")
}

func TestExecuteRetrievalFailure(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("engine down")}
	exec := New(searcher, DefaultConfig(), slog.Default())
	step := searchStep(t)

	result := exec.Execute(context.Background(), step, DefaultOptions(), nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "retrieval failed")
	assert.Equal(t, plan.StatusFailed, step.Status)
}

func TestExecuteNilSearcherProceedsEmpty(t *testing.T) {
	exec := New(nil, DefaultConfig(), slog.Default())
	step := searchStep(t)

	result := exec.Execute(context.Background(), step, DefaultOptions(), nil)
	assert.True(t, result.Success)
	assert.Empty(t, result.Citations)
	assert.Empty(t, result.Data["context"])
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := New(&fakeSearcher{}, DefaultConfig(), slog.Default())
	step := searchStep(t)

	result := exec.Execute(ctx, step, DefaultOptions(), nil)
	assert.False(t, result.Success)
	assert.Equal(t, plan.StatusSkipped, step.Status)
	assert.Equal(t, "cancelled", result.Error)
}

func TestReformulateQueryKindHints(t *testing.T) {
	tests := []struct {
		kind plan.Kind
		hint string
	}{
		{plan.KindSearch, "Information about"},
		{plan.KindRetrieval, "Data and facts about"},
		{plan.KindAnalysis, "Analysis and evaluation of"},
		{plan.KindValidation, "Legal requirements and regulations for"},
		{plan.KindSynthesis, "Documentation and guides for"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			step := plan.NewStep("s", "name", "building permits", tt.kind)
			assert.True(t, strings.HasPrefix(reformulateQuery(step), tt.hint))
		})
	}

	t.Run("parameters are appended", func(t *testing.T) {
		step := plan.NewStep("s", "name", "building permits", plan.KindSearch)
		step.Parameters["location"] = "Stuttgart"
		step.Parameters["focus"] = "costs"
		q := reformulateQuery(step)
		assert.Contains(t, q, "Stuttgart")
		assert.Contains(t, q, "costs")
	})

	t.Run("falls back to name without description", func(t *testing.T) {
		step := plan.NewStep("s", "Search forms", "", plan.KindSearch)
		assert.Equal(t, "Information about Search forms", reformulateQuery(step))
	})
}

func TestAssembleContextRespectsTokenBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextTokenBudget = 50 // 200 chars
	cfg.ExcerptChars = 120
	exec := New(nil, cfg, slog.Default())

	docs := []models.Document{
		fusedDoc("a", "A", strings.Repeat("x", 120), 0.9),
		fusedDoc("b", "B", strings.Repeat("y", 120), 0.8),
		fusedDoc("c", "C", strings.Repeat("z", 120), 0.7),
	}
	out := exec.assembleContext(docs)
	assert.Contains(t, out, "xxx")
	assert.NotContains(t, out, "zzz")
	assert.LessOrEqual(t, len(out)/4, 50)
}

func TestBuildOutputReasoningKinds(t *testing.T) {
	exec := New(nil, DefaultConfig(), slog.Default())
	step := plan.NewStep("s", "Compare", "Compare GmbH and AG", plan.KindComparison)
	step.Parameters["subjects"] = []string{"GmbH", "AG"}

	data := exec.buildOutput(step, "q", nil, true)
	assert.Equal(t, true, data["requires_reasoning"])
	assert.Equal(t, "comparison", data["output_kind"])
	assert.Equal(t, []string{"GmbH", "AG"}, data["subjects"])

	t.Run("agents off keeps plain output", func(t *testing.T) {
		data := exec.buildOutput(step, "q", nil, false)
		assert.NotContains(t, data, "requires_reasoning")
		assert.NotContains(t, data, "output_kind")
		assert.NotContains(t, data, "subjects")
	})
}

func TestSearchOptionsCarryRerankTopN(t *testing.T) {
	searcher := &fakeSearcher{}
	exec := New(searcher, DefaultConfig(), slog.Default())

	exec.Execute(context.Background(), searchStep(t), DefaultOptions(), nil)
	require.Len(t, searcher.opts, 1)
	assert.Equal(t, DefaultConfig().RerankTopN, searcher.opts[0].RerankTopN)

	exec.Execute(context.Background(), searchStep(t), Options{UseAgents: true}, nil)
	require.Len(t, searcher.opts, 2)
	assert.Zero(t, searcher.opts[1].RerankTopN)
}

// countingReranker keeps the order and counts invocations.
type countingReranker struct{ calls int }

func (r *countingReranker) Apply(_ context.Context, _ string, docs []models.Document, _ int) ([]models.Document, error) {
	r.calls++
	return docs, nil
}

type fixedBackend struct{ docs []models.Document }

func (b *fixedBackend) Search(_ context.Context, _ string, _ int) ([]models.Document, error) {
	return b.docs, nil
}

func (b *fixedBackend) Method() retrieval.Method { return retrieval.MethodKeyword }

func TestExecuteRerankReachesEngine(t *testing.T) {
	keywordDoc := func(id string, score float64) models.Document {
		d := models.Document{ID: id, Title: "Doc " + id, Content: "content " + id}
		d.Score.Keyword = score
		d.Score.HasKeyword = true
		return d
	}
	backend := &fixedBackend{docs: []models.Document{
		keywordDoc("a", 0.9),
		keywordDoc("b", 0.5),
	}}
	reranker := &countingReranker{}
	engine := retrieval.NewEngine([]retrieval.Backend{backend}, reranker, 0, slog.Default())
	exec := New(engine, DefaultConfig(), slog.Default())

	result := exec.Execute(context.Background(), searchStep(t), DefaultOptions(), nil)
	assert.True(t, result.Success)
	assert.Equal(t, 1, reranker.calls)

	// With re-ranking disabled the engine never consults the re-ranker.
	exec.Execute(context.Background(), searchStep(t), Options{UseAgents: true}, nil)
	assert.Equal(t, 1, reranker.calls)
}
