package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openlotse/lotse/pkg/models"
)

// KeywordAnalyzer is the built-in regex/keyword classifier for German
// administrative queries. It is deliberately simple: intent is decided by
// the first matching keyword group in a fixed precedence order, entities
// come from closed vocabularies plus a handful of patterns.
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer creates the default analyzer.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

// Intent keyword groups, checked in precedence order. More specific
// intents come first so "Wie viel kostet ein Bauantrag" is a calculation,
// not a procedure.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentContact, []string{"kontakt", "telefon", "e-mail", "email", "ansprechpartner", "öffnungszeiten", "erreichen", "sprechzeiten"}},
	{IntentCalculation, []string{"wie viel kostet", "was kostet", "kostet", "kosten", "gebühr", "gebühren", "preis", "berechnen"}},
	{IntentComparison, []string{"unterschied", "vergleich", "vergleichen", " vs ", "versus", "gegenüber", "oder besser"}},
	{IntentTimeline, []string{"wie lange", "dauert", "dauer", "frist", "fristen", "bearbeitungszeit", "zeitplan"}},
	{IntentLocation, []string{"wo ist", "wo finde", "wo kann ich", "adresse", "standort", "anfahrt"}},
	{IntentProcedure, []string{"wie beantrage", "beantragen", "antrag", "anmelden", "anmeldung", "ummelden", "abmelden", "genehmigung", "verfahren", "ablauf", "unterlagen", "voraussetzungen"}},
}

var definitionPattern = regexp.MustCompile(`(?i)\bwas (ist|sind) (ein|eine)\b|\bwas bedeutet\b|\bdefinition\b`)

// Closed vocabularies for entity extraction.
var (
	knownCities = []string{
		"Stuttgart", "München", "Berlin", "Hamburg", "Köln", "Frankfurt",
		"Düsseldorf", "Dortmund", "Essen", "Leipzig", "Dresden", "Hannover",
		"Nürnberg", "Karlsruhe", "Mannheim", "Freiburg", "Heidelberg", "Ulm",
		"Augsburg", "Wiesbaden", "Bonn", "Münster",
	}
	legalForms   = []string{"GmbH", "AG", "UG", "GbR", "OHG", "KG", "e.V."}
	officeSuffix = regexp.MustCompile(`\b([A-ZÄÖÜ][a-zäöüß]*(?:amt|behörde))\b`)
	docWords     = []string{"formular", "ausweis", "urkunde", "bescheinigung", "reisepass", "führerschein", "merkblatt"}
	procWords    = []string{"bauantrag", "gewerbeanmeldung", "ummeldung", "eheschließung", "einbürgerung", "baugenehmigung"}

	datePattern   = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{2,4}\b`)
	amountPattern = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s?(?:€|euro|eur)\b`)
)

// Analyze classifies the query and extracts entities and parameters.
// It never fails on well-formed input; an empty query is invalid.
func (a *KeywordAnalyzer) Analyze(_ context.Context, query string) (*Analysis, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrInvalidInput)
	}

	lower := strings.ToLower(trimmed)

	result := &Analysis{
		Query:        trimmed,
		Intent:       classifyIntent(lower),
		Parameters:   map[string]any{},
		QuestionType: questionType(lower),
	}

	result.Entities = extractEntities(trimmed)
	projectParameters(result, lower)

	return result, nil
}

func classifyIntent(lower string) Intent {
	if definitionPattern.MatchString(lower) {
		return IntentDefinition
	}
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.intent
			}
		}
	}
	if isQuestion(lower) {
		return IntentFact
	}
	return IntentUnknown
}

func isQuestion(lower string) bool {
	if strings.Contains(lower, "?") {
		return true
	}
	for _, w := range []string{"was ", "wer ", "wo ", "wie ", "wann ", "warum ", "welche"} {
		if strings.HasPrefix(lower, w) {
			return true
		}
	}
	return false
}

func questionType(lower string) string {
	switch {
	case strings.HasPrefix(lower, "wie viel"), strings.HasPrefix(lower, "wieviel"):
		return "how_much"
	case strings.HasPrefix(lower, "wie"):
		return "how"
	case strings.HasPrefix(lower, "was"):
		return "what"
	case strings.HasPrefix(lower, "wo"):
		return "where"
	case strings.HasPrefix(lower, "wer"):
		return "who"
	case strings.HasPrefix(lower, "wann"):
		return "when"
	case strings.HasPrefix(lower, "warum"):
		return "why"
	default:
		return "statement"
	}
}

// extractEntities scans the query for known vocabulary items and
// patterns. Entities are returned in order of position.
func extractEntities(query string) []Entity {
	var entities []Entity
	lower := strings.ToLower(query)

	appendMatch := func(text string, kind EntityKind, start int) {
		entities = append(entities, Entity{
			Text:  text,
			Kind:  kind,
			Start: start,
			End:   start + len(text),
		})
	}

	for _, city := range knownCities {
		if idx := strings.Index(query, city); idx >= 0 {
			appendMatch(city, EntityLocation, idx)
		}
	}
	for _, form := range legalForms {
		if idx := indexWord(query, form); idx >= 0 {
			appendMatch(form, EntityTerm, idx)
		}
	}
	for _, loc := range officeSuffix.FindAllStringIndex(query, -1) {
		appendMatch(query[loc[0]:loc[1]], EntityOrganization, loc[0])
	}
	for _, w := range docWords {
		if idx := strings.Index(lower, w); idx >= 0 {
			appendMatch(query[idx:idx+len(w)], EntityDocument, idx)
		}
	}
	for _, w := range procWords {
		if idx := strings.Index(lower, w); idx >= 0 {
			appendMatch(query[idx:idx+len(w)], EntityProcedure, idx)
		}
	}

	sortEntitiesByPosition(entities)
	return entities
}

// indexWord finds needle in haystack only at word boundaries, so "AG"
// does not match inside "Antrag".
func indexWord(haystack, needle string) int {
	for from := 0; from < len(haystack); {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		beforeOK := abs == 0 || !isWordByte(haystack[abs-1])
		afterEnd := abs + len(needle)
		afterOK := afterEnd >= len(haystack) || !isWordByte(haystack[afterEnd])
		if beforeOK && afterOK {
			return abs
		}
		from = abs + len(needle)
	}
	return -1
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func sortEntitiesByPosition(entities []Entity) {
	for i := 1; i < len(entities); i++ {
		for j := i; j > 0 && entities[j].Start < entities[j-1].Start; j-- {
			entities[j], entities[j-1] = entities[j-1], entities[j]
		}
	}
}

// projectParameters fills the well-known parameter keys from the
// extracted entities and value patterns.
func projectParameters(a *Analysis, lower string) {
	for _, e := range a.Entities {
		switch e.Kind {
		case EntityLocation:
			if _, ok := a.Parameters[ParamLocation]; !ok {
				a.Parameters[ParamLocation] = e.Text
			}
		case EntityOrganization:
			if _, ok := a.Parameters[ParamOrganization]; !ok {
				a.Parameters[ParamOrganization] = e.Text
			}
		case EntityDocument:
			if _, ok := a.Parameters[ParamDocumentType]; !ok {
				a.Parameters[ParamDocumentType] = strings.ToLower(e.Text)
			}
		case EntityProcedure:
			if _, ok := a.Parameters[ParamProcedureType]; !ok {
				a.Parameters[ParamProcedureType] = strings.ToLower(e.Text)
			}
		}
	}
	if m := datePattern.FindString(lower); m != "" {
		a.Parameters[ParamDate] = m
	}
	if m := amountPattern.FindString(lower); m != "" {
		a.Parameters[ParamAmount] = m
	}
}
