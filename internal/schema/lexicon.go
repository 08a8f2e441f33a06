package schema

import (
	_ "embed"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var lexiconYAML []byte

// Concept is one of the canonical semantic categories the lexicon maps
// column names onto.
type Concept string

const (
	ConceptPrice      Concept = "price"
	ConceptDate       Concept = "date"
	ConceptLocation   Concept = "location"
	ConceptAttendance Concept = "attendance"
	ConceptRevenue    Concept = "revenue"
	ConceptEvent      Concept = "event"
	ConceptName       Concept = "name"
	ConceptQuantity   Concept = "quantity"
)

// Lexicon maps each concept to its normalized synonym token set.
type Lexicon map[Concept][]string

// ConceptMatch pairs a concept with the specific synonym words from the
// lexicon that matched a column name, so a prompt can show the model the
// actual hint text rather than a bare concept label.
type ConceptMatch struct {
	Concept  Concept
	Synonyms []string
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// Load parses the embedded lexicon.yaml; the error return carries any YAML
// parse failure of that embedded copy.
func Load() (Lexicon, error) {
	return parse(lexiconYAML)
}

func parse(raw []byte) (Lexicon, error) {
	var doc map[string][]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	lex := make(Lexicon, len(doc))
	for concept, synonyms := range doc {
		lex[Concept(concept)] = synonyms
	}
	return lex, nil
}

// normalizeTokens lowercases a column name and splits it on non-alphanumeric
// runs, so "Ticket_Cost" and "ticket cost" normalize to the same token set.
func normalizeTokens(name string) []string {
	lower := strings.ToLower(name)
	parts := tokenSplit.Split(lower, -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// ConceptsFor returns every concept whose synonym set overlaps the
// normalized tokens of columnName, each paired with the specific synonym
// words that matched. Map iteration order is randomized, so callers that
// need a deterministic order should sort the result.
func (l Lexicon) ConceptsFor(columnName string) []ConceptMatch {
	tokens := normalizeTokens(columnName)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	var matches []ConceptMatch
	for concept, synonyms := range l {
		var hit []string
		for _, syn := range synonyms {
			if tokenSet[syn] {
				hit = append(hit, syn)
			}
		}
		if len(hit) > 0 {
			matches = append(matches, ConceptMatch{Concept: concept, Synonyms: hit})
		}
	}
	return matches
}
