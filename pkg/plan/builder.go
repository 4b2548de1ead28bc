package plan

import (
	"fmt"
	"strings"

	"github.com/openlotse/lotse/pkg/analysis"
	"github.com/openlotse/lotse/pkg/models"
)

// Builder turns a query analysis into an executable plan using fixed
// per-intent templates. Dependencies are encoded at step-creation time;
// no post-pass is needed.
type Builder struct{}

// NewBuilder creates a plan builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build selects the template for the analysis intent and materialises the
// plan. The execution order and estimated duration are computed before
// returning; a plan with zero steps is never produced.
func (b *Builder) Build(a *analysis.Analysis) (*Plan, error) {
	if a == nil || strings.TrimSpace(a.Query) == "" {
		return nil, fmt.Errorf("%w: analysis missing query", models.ErrInvalidInput)
	}

	p := New(a.Query, a)

	var err error
	switch a.Intent {
	case analysis.IntentProcedure:
		err = b.buildProcedure(p, a)
	case analysis.IntentComparison:
		err = b.buildComparison(p, a)
	case analysis.IntentCalculation:
		err = b.buildCalculation(p, a)
	case analysis.IntentTimeline:
		err = b.buildTimeline(p, a)
	case analysis.IntentFact, analysis.IntentDefinition, analysis.IntentLocation, analysis.IntentContact:
		err = b.buildLookup(p, a)
	default:
		err = b.buildFallback(p, a)
	}
	if err != nil {
		return nil, err
	}

	levels, err := p.ExecutionOrder()
	if err != nil {
		return nil, err
	}
	estimated, err := p.EstimatedDuration()
	if err != nil {
		return nil, err
	}
	p.Metadata["intent"] = string(a.Intent)
	p.Metadata["level_count"] = len(levels)
	p.Metadata["estimated_duration_seconds"] = estimated.Seconds()

	return p, nil
}

// buildLookup covers fact, definition, location and contact: a search
// followed by a retrieval of the matched documents.
func (b *Builder) buildLookup(p *Plan, a *analysis.Analysis) error {
	search := b.newStep(p, a, "Search documents",
		fmt.Sprintf("Search for documents answering: %s", a.Query), KindSearch)
	if err := p.AddStep(search); err != nil {
		return err
	}

	retrieve := b.newStep(p, a, "Retrieve details",
		fmt.Sprintf("Retrieve detailed content for: %s", a.Query), KindRetrieval)
	retrieve.DependsOn = []string{search.ID}
	return p.AddStep(retrieve)
}

// buildProcedure: two parallel searches (requirements, forms) feeding a
// synthesis step that produces a checklist.
func (b *Builder) buildProcedure(p *Plan, a *analysis.Analysis) error {
	requirements := b.newStep(p, a, "Search requirements",
		fmt.Sprintf("Search requirements and prerequisites for: %s", a.Query), KindSearch)
	requirements.Parameters["focus"] = "requirements"
	if err := p.AddStep(requirements); err != nil {
		return err
	}

	forms := b.newStep(p, a, "Search forms",
		fmt.Sprintf("Search forms and documents needed for: %s", a.Query), KindSearch)
	forms.Parameters["focus"] = "forms"
	if err := p.AddStep(forms); err != nil {
		return err
	}

	checklist := b.newStep(p, a, "Create checklist",
		fmt.Sprintf("Synthesise a step-by-step checklist for: %s", a.Query), KindSynthesis)
	checklist.DependsOn = []string{requirements.ID, forms.ID}
	return p.AddStep(checklist)
}

// buildComparison: parallel search + analysis per subject, then one
// comparison step. Degrades to a single search when fewer than two
// comparable entities were extracted.
func (b *Builder) buildComparison(p *Plan, a *analysis.Analysis) error {
	subjects := comparableEntities(a)
	if len(subjects) < 2 {
		return b.buildFallback(p, a)
	}
	subjects = subjects[:2]

	var analysisIDs []string
	for _, subject := range subjects {
		search := b.newStep(p, a, fmt.Sprintf("Search %s", subject),
			fmt.Sprintf("Search information about %s", subject), KindSearch)
		search.Parameters["subject"] = subject
		if err := p.AddStep(search); err != nil {
			return err
		}

		analyse := b.newStep(p, a, fmt.Sprintf("Analyse %s", subject),
			fmt.Sprintf("Analyse the collected information about %s", subject), KindAnalysis)
		analyse.Parameters["subject"] = subject
		analyse.DependsOn = []string{search.ID}
		if err := p.AddStep(analyse); err != nil {
			return err
		}
		analysisIDs = append(analysisIDs, analyse.ID)
	}

	compare := b.newStep(p, a, fmt.Sprintf("Compare %s and %s", subjects[0], subjects[1]),
		fmt.Sprintf("Compare %s and %s with respect to: %s", subjects[0], subjects[1], a.Query), KindComparison)
	compare.Parameters["subjects"] = subjects
	compare.DependsOn = analysisIDs
	return p.AddStep(compare)
}

// buildCalculation: search for cost information, then calculate.
func (b *Builder) buildCalculation(p *Plan, a *analysis.Analysis) error {
	search := b.newStep(p, a, "Search cost information",
		fmt.Sprintf("Search fees and cost information for: %s", a.Query), KindSearch)
	search.Parameters["focus"] = "costs"
	if err := p.AddStep(search); err != nil {
		return err
	}

	calc := b.newStep(p, a, "Calculate costs",
		fmt.Sprintf("Calculate the total costs for: %s", a.Query), KindCalculation)
	calc.DependsOn = []string{search.ID}
	return p.AddStep(calc)
}

// buildTimeline: search, retrieval and aggregation chained sequentially.
func (b *Builder) buildTimeline(p *Plan, a *analysis.Analysis) error {
	search := b.newStep(p, a, "Search deadlines",
		fmt.Sprintf("Search deadlines and processing times for: %s", a.Query), KindSearch)
	if err := p.AddStep(search); err != nil {
		return err
	}

	retrieve := b.newStep(p, a, "Retrieve timeline details",
		fmt.Sprintf("Retrieve date and duration details for: %s", a.Query), KindRetrieval)
	retrieve.DependsOn = []string{search.ID}
	if err := p.AddStep(retrieve); err != nil {
		return err
	}

	aggregate := b.newStep(p, a, "Aggregate timeline",
		fmt.Sprintf("Aggregate the findings into a timeline for: %s", a.Query), KindAggregation)
	aggregate.DependsOn = []string{retrieve.ID}
	return p.AddStep(aggregate)
}

// buildFallback: a single search over the raw query.
func (b *Builder) buildFallback(p *Plan, a *analysis.Analysis) error {
	search := b.newStep(p, a, "Search documents",
		fmt.Sprintf("Search for documents matching: %s", a.Query), KindSearch)
	return p.AddStep(search)
}

// newStep creates a step with the next plan-local id and the analysis
// parameters projected into it.
func (b *Builder) newStep(p *Plan, a *analysis.Analysis, name, description string, kind Kind) *Step {
	s := NewStep(p.NextStepID(), name, description, kind)
	for _, key := range []string{
		analysis.ParamLocation,
		analysis.ParamOrganization,
		analysis.ParamDocumentType,
		analysis.ParamProcedureType,
	} {
		if v := a.Param(key); v != "" {
			s.Parameters[key] = v
		}
	}
	if len(a.Entities) > 0 {
		names := make([]string, 0, len(a.Entities))
		for _, e := range a.Entities {
			names = append(names, e.Text)
		}
		s.Parameters["entities"] = names
	}
	return s
}

// comparableEntities returns entity texts suitable as comparison
// subjects, in query order and deduplicated.
func comparableEntities(a *analysis.Analysis) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range a.Entities {
		switch e.Kind {
		case analysis.EntityTerm, analysis.EntityOrganization, analysis.EntityProcedure, analysis.EntityDocument:
			if !seen[e.Text] {
				seen[e.Text] = true
				out = append(out, e.Text)
			}
		}
	}
	return out
}
