package patterns

import (
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+(?:[-'][a-z0-9]+)*`)

// Tokens splits text into lower-cased word tokens. Hyphenated and
// apostrophised words such as "1-25" or "what's" stay whole.
func Tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokens(text) {
		set[t] = true
	}
	return set
}

// Keywords derives keywords from text: distinct tokens longer than three
// characters, in order of first appearance.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokens(text) {
		if len(t) <= 3 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
