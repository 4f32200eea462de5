// Package dedup finds near-duplicate questions within and across sources.
package dedup

import "github.com/quizforge/question-harvester/internal/fingerprint"

// Similarity scores how alike two texts are. Implementations must be
// symmetric and return a value in [0,1].
type Similarity interface {
	Compare(a, b string) float64
}

// TokenOverlap computes Jaccard similarity over normalized word tokens.
// It is cheap, symmetric, and needs no external model, which makes it the
// default for the bounded corpus window.
type TokenOverlap struct{}

// Compare returns |A∩B| / |A∪B| over the token sets of a and b.
func (TokenOverlap) Compare(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	tokens := fingerprint.Tokens(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
