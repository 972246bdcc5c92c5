package monitoring

import (
	"strings"
	"unicode"
)

// Similarity scores how close two requirement texts are, in [0, 1].
// It is the mean of the Dice coefficient and the overlap coefficient over
// the token sets of both texts: Dice penalizes texts that grew or shrank,
// overlap credits texts that kept their original wording. Identical texts
// score exactly 1.0. The function is deterministic and involves no model.
func Similarity(oldText, newText string) float64 {
	oldTokens := tokenize(oldText)
	newTokens := tokenize(newText)

	if len(oldTokens) == 0 && len(newTokens) == 0 {
		return 1.0
	}
	if len(oldTokens) == 0 || len(newTokens) == 0 {
		return 0.0
	}

	shared := 0
	for token := range oldTokens {
		if _, ok := newTokens[token]; ok {
			shared++
		}
	}

	dice := 2.0 * float64(shared) / float64(len(oldTokens)+len(newTokens))

	minSize := len(oldTokens)
	if len(newTokens) < minSize {
		minSize = len(newTokens)
	}
	overlap := float64(shared) / float64(minSize)

	return (dice + overlap) / 2.0
}

// tokenize lowercases the text and splits it on anything that is not a
// letter or digit, returning the distinct token set.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

// obligationMarkers are the imperative keywords that mark a requirement as a
// mandatory obligation. Adding or removing such a requirement is escalated
// to Critical severity.
var obligationMarkers = []string{
	"shall",
	"must",
	"required",
	"mandatory",
	"prohibited",
	"obligated",
}

// ContainsObligation reports whether the requirement text carries a
// mandatory-obligation marker.
func ContainsObligation(text string) bool {
	tokens := tokenize(text)
	for _, marker := range obligationMarkers {
		if _, ok := tokens[marker]; ok {
			return true
		}
	}
	return false
}
