// Package corpus loads the fixed set of known questions the matcher searches.
// A corpus is loaded once and is read-only afterwards.
package corpus

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/algsoch/data-science-tool/internal/patterns"
)

//go:embed questions.json
var defaultCorpus []byte

// ErrCorpusLoad is matched by every error returned from Load and Parse.
var ErrCorpusLoad = errors.New("corpus load failed")

// LoadError describes why a corpus could not be loaded. Callers treat it as
// fatal: nothing can be matched without a corpus.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load corpus %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCorpusLoad) true for every LoadError.
func (e *LoadError) Is(target error) bool { return target == ErrCorpusLoad }

// Record is one known question and the handler that answers it.
type Record struct {
	// ID is the record's position in the corpus (1-based) unless the source
	// assigns one.
	ID int `json:"id"`

	// Question is the full question text.
	Question string `json:"question"`

	// Handler identifies the handler that answers the question.
	Handler string `json:"handler"`

	// Input is the handler's default input file, if it takes one.
	Input string `json:"input,omitempty"`

	// Keywords are matched as substrings of a query. Derived from Question
	// when the source supplies none.
	Keywords []string `json:"keywords"`

	// Patterns are the question shapes detected in Question.
	Patterns map[string]bool `json:"patterns,omitempty"`
}

// rawRecord is the on-disk shape. Older corpora name the handler
// mapped_script instead of file.
type rawRecord struct {
	ID           *int     `json:"id"`
	Question     string   `json:"question"`
	File         string   `json:"file"`
	MappedScript string   `json:"mapped_script"`
	Input        string   `json:"input"`
	Keywords     []string `json:"keywords"`
}

type rawCorpus struct {
	Questions []rawRecord `json:"questions"`
}

// Corpus is an immutable, ordered set of records.
type Corpus struct {
	source  string
	records []Record
}

// Load reads a corpus from a JSON file.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	return Parse(path, data)
}

// Default returns the corpus embedded in the binary.
func Default() (*Corpus, error) {
	return Parse("embedded", defaultCorpus)
}

// Parse decodes a corpus. The document is either {"questions": [...]} or a
// bare array of records. Records without question text are skipped.
func Parse(source string, data []byte) (*Corpus, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &LoadError{Source: source, Err: errors.New("empty document")}
	}

	var raws []rawRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, &LoadError{Source: source, Err: err}
		}
	case '{':
		var doc rawCorpus
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, &LoadError{Source: source, Err: err}
		}
		raws = doc.Questions
	default:
		return nil, &LoadError{Source: source, Err: errors.New("expected a JSON object or array")}
	}

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		question := strings.TrimSpace(raw.Question)
		if question == "" {
			continue
		}

		handler := raw.File
		if handler == "" {
			handler = raw.MappedScript
		}

		id := len(records) + 1
		if raw.ID != nil {
			id = *raw.ID
		}

		records = append(records, Record{
			ID:       id,
			Question: question,
			Handler:  handler,
			Input:    raw.Input,
			Keywords: normalizeKeywords(raw.Keywords, question),
			Patterns: patterns.DetectShapes(question),
		})
	}

	if len(records) == 0 {
		return nil, &LoadError{Source: source, Err: errors.New("no usable questions")}
	}

	return &Corpus{source: source, records: records}, nil
}

// normalizeKeywords lower-cases supplied keywords, or derives them from the
// question when none are supplied.
func normalizeKeywords(supplied []string, question string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, k := range supplied {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	if len(out) == 0 {
		return patterns.Keywords(question)
	}
	return out
}

// Source names where the corpus was loaded from.
func (c *Corpus) Source() string {
	return c.source
}

// Len returns the number of records.
func (c *Corpus) Len() int {
	return len(c.records)
}

// Records returns a copy of the records in corpus order.
func (c *Corpus) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// ByID returns the record with the given ID.
func (c *Corpus) ByID(id int) (Record, bool) {
	for _, r := range c.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// ByHandler returns the first record whose handler ends with suffix.
// Path separators are compared loosely so Windows-style handler paths match.
func (c *Corpus) ByHandler(suffix string) (Record, bool) {
	for _, r := range c.records {
		if HandlerMatches(r.Handler, suffix) {
			return r, true
		}
	}
	return Record{}, false
}

// HandlerMatches reports whether handler ends with suffix, ignoring case and
// the difference between / and \ separators.
func HandlerMatches(handler, suffix string) bool {
	if suffix == "" {
		return false
	}
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, `\`, "/"))
	}
	h, s := norm(handler), norm(suffix)
	if h == s {
		return true
	}
	return strings.HasSuffix(h, "/"+strings.TrimPrefix(s, "/"))
}
