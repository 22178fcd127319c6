package corpus

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// questionSource adapts records to fuzzy.Source.
type questionSource []Record

func (s questionSource) String(i int) string { return strings.ToLower(s[i].Question) }
func (s questionSource) Len() int            { return len(s) }

// Hit is a fuzzy search result.
type Hit struct {
	Record Record `json:"record"`
	Score  int    `json:"score"`
}

// Find fuzzy-searches question texts for term, best hits first. It is meant
// for browsing the corpus, not for matching queries.
func (c *Corpus) Find(term string, limit int) []Hit {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	matches := fuzzy.FindFrom(strings.ToLower(term), questionSource(c.records))

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{Record: c.records[m.Index], Score: m.Score})
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits
}
