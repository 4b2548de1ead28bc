package hypothesis

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openlotse/lotse/pkg/llm"
	"github.com/openlotse/lotse/pkg/models"
)

// defaultTemplate is used when no template file is configured. The two
// placeholders are {query} and {rag_context}.
const defaultTemplate = `You are analysing a question about German administrative procedures.

Question: {query}

Context so far:
{rag_context}

Form a preliminary hypothesis. Return only JSON with these fields:
{
  "statement": "one-sentence hypothesis",
  "question_type": "fact|comparison|procedural|calculation|opinion|timeline|causal|hypothetical",
  "primary_intent": "short phrase",
  "confidence": "high|medium|low",
  "required_information": ["..."],
  "assumptions": ["..."],
  "information_gaps": [{"topic": "...", "description": "...", "severity": "critical|important|optional", "suggested_query": "...", "examples": ["..."]}],
  "sub_questions": ["..."],
  "expected_response_type": "short phrase"
}`

// Config parameterises the service.
type Config struct {
	// TemplatePath loads the prompt template from a file at
	// construction. Empty uses the built-in default.
	TemplatePath string

	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig uses the built-in template with a conservative
// temperature.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.3,
		MaxTokens:   1024,
		Timeout:     20 * time.Second,
	}
}

// Service generates hypotheses through the LLM client.
type Service struct {
	client   llm.Client
	template string
	cfg      Config
	logger   *slog.Logger
	stats    *Stats
}

// NewService creates the service, loading the template once. A missing
// template file is an error; an empty path uses the default template.
func NewService(client llm.Client, cfg Config, logger *slog.Logger) (*Service, error) {
	def := DefaultConfig()
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	template := defaultTemplate
	if cfg.TemplatePath != "" {
		raw, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, err
		}
		template = string(raw)
	}

	return &Service{
		client:   client,
		template: template,
		cfg:      cfg,
		logger:   logger,
		stats:    newStats(),
	}, nil
}

// Generate produces a hypothesis for the query. It never returns an
// error: any failure (LLM, JSON, missing fields) yields the fallback
// hypothesis, counted in the service statistics.
func (s *Service) Generate(ctx context.Context, query, ragContext string) *Hypothesis {
	start := time.Now()

	h, err := s.generate(ctx, query, ragContext)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Warn("hypothesis generation failed, using fallback",
			"query", query, "error", err)
		h = fallbackHypothesis(query)
	}

	s.stats.record(h, elapsed)
	return h
}

func (s *Service) generate(ctx context.Context, query, ragContext string) (*Hypothesis, error) {
	if ragContext == "" {
		ragContext = "(no retrieval context yet)"
	}
	prompt := strings.NewReplacer(
		"{query}", query,
		"{rag_context}", ragContext,
	).Replace(s.template)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.Invoke(callCtx, llm.Request{
		Prompt:      prompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return parseResponse(resp.Content)
}

// rawHypothesis mirrors the LLM output shape with loose enum fields.
type rawHypothesis struct {
	Statement           string   `json:"statement"`
	QuestionType        string   `json:"question_type"`
	PrimaryIntent       string   `json:"primary_intent"`
	Confidence          string   `json:"confidence"`
	RequiredInformation []string `json:"required_information"`
	Assumptions         []string `json:"assumptions"`
	Gaps                []struct {
		Topic          string   `json:"topic"`
		Description    string   `json:"description"`
		Severity       string   `json:"severity"`
		SuggestedQuery string   `json:"suggested_query"`
		Examples       []string `json:"examples"`
	} `json:"information_gaps"`
	SubQuestions         []string       `json:"sub_questions"`
	ExpectedResponseType string         `json:"expected_response_type"`
	Metadata             map[string]any `json:"metadata"`
}

// parseResponse parses the LLM output permissively and validates the
// required fields. Unknown enum values map to their defaults.
func parseResponse(content string) (*Hypothesis, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, llm.ErrLLM
	}

	var r rawHypothesis
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	if r.QuestionType == "" || r.PrimaryIntent == "" || r.Confidence == "" {
		return nil, llm.ErrLLM
	}

	h := &Hypothesis{
		Statement:            r.Statement,
		QuestionType:         ParseQuestionType(r.QuestionType),
		PrimaryIntent:        r.PrimaryIntent,
		Confidence:           parseConfidenceDefaultMedium(r.Confidence),
		RequiredInformation:  r.RequiredInformation,
		Assumptions:          r.Assumptions,
		SubQuestions:         r.SubQuestions,
		ExpectedResponseType: r.ExpectedResponseType,
		Metadata:             r.Metadata,
	}
	for _, g := range r.Gaps {
		h.Gaps = append(h.Gaps, Gap{
			Topic:          g.Topic,
			Description:    g.Description,
			Severity:       ParseSeverity(g.Severity),
			SuggestedQuery: g.SuggestedQuery,
			Examples:       g.Examples,
		})
	}
	return h, nil
}

// parseConfidenceDefaultMedium differs from models.ParseConfidence in
// its default: an unknown value from the LLM means "it answered but
// oddly", which is closer to medium than to unknown.
func parseConfidenceDefaultMedium(s string) models.Confidence {
	if c := models.ParseConfidence(s); c != models.ConfidenceUnknown {
		return c
	}
	return models.ConfidenceMedium
}

// fallbackHypothesis is returned when generation fails for any reason.
func fallbackHypothesis(query string) *Hypothesis {
	return &Hypothesis{
		Statement:     "No hypothesis could be generated for: " + query,
		QuestionType:  QuestionFact,
		PrimaryIntent: "unknown",
		Confidence:    models.ConfidenceUnknown,
		Assumptions:   []string{"hypothesis generation failed, this is a fallback"},
		Gaps: []Gap{{
			Topic:       "llm_failure",
			Description: "the language model did not produce a usable hypothesis",
			Severity:    SeverityImportant,
		}},
		Fallback: true,
	}
}

// Stats returns a snapshot of the running statistics.
func (s *Service) Stats() StatsSnapshot {
	return s.stats.snapshot()
}
