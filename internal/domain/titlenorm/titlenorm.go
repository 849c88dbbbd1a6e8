// Package titlenorm normalizes headline text so near-duplicate titles
// across platforms compare equal: full-width punctuation/digits folded
// to half-width, case folded, punctuation stripped, whitespace
// collapsed.
package titlenorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Normalize returns a comparable form of title suitable for n-gram
// Jaccard similarity.
func Normalize(title string) string {
	folded := width.Narrow.String(title)
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	lastWasSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		case isPunctuation(r):
			// dropped entirely, not replaced with a space
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isPunctuation(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// Bigrams returns the rune-level 2-gram set of a normalized title. CJK
// text has no whitespace word boundaries, so bigrams are computed over
// runes rather than words.
func Bigrams(normalized string) map[string]struct{} {
	runes := []rune(normalized)
	set := make(map[string]struct{})
	if len(runes) < 2 {
		if len(runes) == 1 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i < len(runes)-1; i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// JaccardSimilarity returns the Jaccard index of two raw titles' rune
// bigram sets, in [0, 1].
func JaccardSimilarity(a, b string) float64 {
	setA := Bigrams(Normalize(a))
	setB := Bigrams(Normalize(b))
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for g := range setA {
		if _, ok := setB[g]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
