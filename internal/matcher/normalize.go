package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize case-folds text, strips accents and punctuation and collapses
// whitespace. Used for exact-question containment and similarity. Casers
// and transformers are stateful, so both are built per call.
func normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// lowerCollapse lower-cases text and collapses runs of whitespace. Override
// predicates and keyword lookup run on this form so punctuation such as the
// dash in "code -s" survives.
func lowerCollapse(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// runeStrings splits s into one string per rune, the sequence form the
// similarity matcher compares.
func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
