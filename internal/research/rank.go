package research

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ranking weights; they sum to 1 so the score stays in [0,1]
const (
	weightProvider = 0.5
	weightTitle    = 0.3
	weightBody     = 0.1
	weightLength   = 0.1

	// snippets at or beyond this many runes get the full length bonus
	lengthBonusRunes = 400
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "what": {}, "when": {}, "which": {}, "who": {},
	"why": {}, "with": {}, "does": {}, "do": {}, "their": {}, "its": {}, "about": {},
}

// tokenize lower-cases text and splits it into content terms
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

// termOverlap is the share of query terms that appear in text
func termOverlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	hits := 0
	for t := range termSet(text) {
		if _, ok := queryTerms[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

func lengthBonus(text string) float64 {
	n := utf8.RuneCountInString(text)
	if n >= lengthBonusRunes {
		return 1
	}
	return float64(n) / lengthBonusRunes
}

// positionScore is the provider-score fallback: the first of n results scores 1, the last 1/n
func positionScore(position, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 1 - float64(position)/float64(total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Scorer ranks candidate texts against one query. It is deterministic for identical inputs.
type Scorer struct {
	terms map[string]struct{}
}

func NewScorer(query string) *Scorer {
	return &Scorer{terms: termSet(query)}
}

// Score combines provider score, title and body term overlap and a length bonus
func (s *Scorer) Score(providerScore float64, title, body string) float64 {
	score := weightProvider*clamp01(providerScore) +
		weightTitle*termOverlap(s.terms, title) +
		weightBody*termOverlap(s.terms, body) +
		weightLength*lengthBonus(body)
	return clamp01(score)
}
