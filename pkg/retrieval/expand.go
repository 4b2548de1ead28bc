package retrieval

import (
	"sort"
	"strings"
)

// synonyms is the closed domain vocabulary for query expansion. Keys
// and values are lower-case; matching is case-insensitive.
var synonyms = map[string][]string{
	"bauantrag":        {"baugenehmigung", "bauvoranfrage"},
	"baugenehmigung":   {"bauantrag", "baubewilligung"},
	"gewerbeanmeldung": {"gewerbeschein", "gewerberegistrierung"},
	"personalausweis":  {"ausweis", "identitätsnachweis"},
	"reisepass":        {"pass", "reisedokument"},
	"führerschein":     {"fahrerlaubnis"},
	"heiratsurkunde":   {"eheurkunde"},
	"geburtsurkunde":   {"personenstandsurkunde"},
	"kosten":           {"gebühren", "preise"},
	"gebühren":         {"kosten", "verwaltungsgebühren"},
	"frist":            {"bearbeitungszeit", "dauer"},
	"antrag":           {"formular", "antragsformular"},
	"firma":            {"unternehmen", "betrieb"},
	"gmbh":             {"gesellschaft mit beschränkter haftung"},
	"kfz":              {"fahrzeug", "auto"},
	"zulassung":        {"anmeldung", "registrierung"},
}

// ExpandQuery produces up to maxExpansions variations of the query by
// substituting known domain synonyms. With includeOriginal the
// lower-cased query leads the list without counting against the limit.
// Duplicates and case-variants are removed.
func ExpandQuery(query string, maxExpansions int, includeOriginal bool) []string {
	lower := strings.ToLower(query)
	if maxExpansions <= 0 {
		if includeOriginal {
			return []string{lower}
		}
		return nil
	}

	seen := map[string]bool{lower: true}
	var out []string
	if includeOriginal {
		out = append(out, lower)
	}

	// Stable term order keeps the output deterministic.
	terms := make([]string, 0, len(synonyms))
	for term := range synonyms {
		if strings.Contains(lower, term) {
			terms = append(terms, term)
		}
	}
	sort.Strings(terms)

	expansions := 0
	for _, term := range terms {
		for _, alt := range synonyms[term] {
			variant := strings.ReplaceAll(lower, term, alt)
			if seen[variant] {
				continue
			}
			seen[variant] = true
			out = append(out, variant)
			expansions++
			if expansions == maxExpansions {
				return out
			}
		}
	}
	return out
}
