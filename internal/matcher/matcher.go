package matcher

import (
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"github.com/algsoch/data-science-tool/internal/corpus"
	"github.com/algsoch/data-science-tool/internal/patterns"
)

// entry is a corpus record with the derived forms every query compares
// against, computed once at construction.
type entry struct {
	record     corpus.Record
	normalized string
	runes      []string
}

// query holds the derived forms of one incoming query.
type query struct {
	raw        string
	lower      string
	normalized string
	tokens     map[string]bool
	shapes     map[string]bool
}

// stage is one step of the cascade. It returns ok=false to pass to the next.
type stage struct {
	strategy Strategy
	run      func(q *query) (Result, bool)
}

// Matcher runs the matching cascade against a fixed corpus. It is safe for
// concurrent use; the only mutable state is Stats.
type Matcher struct {
	entries    []entry
	overrides  []Override
	thresholds Thresholds
	strict     bool
	stages     []stage
	log        zerolog.Logger

	stats Stats
	mu    sync.RWMutex
}

// Option is a functional option for configuring Matcher.
type Option func(*Matcher)

// WithThresholds sets the fallback thresholds. Zero fields keep the default.
func WithThresholds(t Thresholds) Option {
	return func(m *Matcher) {
		if t.Keyword > 0 {
			m.thresholds.Keyword = t.Keyword
		}
		if t.Similarity > 0 {
			m.thresholds.Similarity = t.Similarity
		}
		if t.StrictSimilarity > 0 {
			m.thresholds.StrictSimilarity = t.StrictSimilarity
		}
	}
}

// WithStrictSimilarity makes the similarity stage use the strict threshold.
func WithStrictSimilarity(strict bool) Option {
	return func(m *Matcher) {
		m.strict = strict
	}
}

// WithOverrides replaces the override table.
func WithOverrides(overrides []Override) Option {
	return func(m *Matcher) {
		m.overrides = overrides
	}
}

// WithLogger sets the logger used for per-match debug output.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Matcher) {
		m.log = log
	}
}

// New creates a Matcher over the records of c.
func New(c *corpus.Corpus, opts ...Option) *Matcher {
	m := &Matcher{
		overrides:  DefaultOverrides(),
		thresholds: DefaultThresholds(),
		log:        zerolog.Nop(),
		stats: Stats{
			RuleHits:    make(map[string]int64),
			HandlerHits: make(map[string]int64),
		},
	}

	for _, r := range c.Records() {
		n := normalize(r.Question)
		m.entries = append(m.entries, entry{
			record:     r,
			normalized: n,
			runes:      runeStrings(n),
		})
	}

	for _, opt := range opts {
		opt(m)
	}

	m.stages = []stage{
		{StrategyOverride, m.matchExact},
		{StrategyOverride, m.matchOverride},
		{StrategyPattern, m.matchPattern},
		{StrategyKeyword, m.matchKeyword},
		{StrategySimilarity, m.matchSimilarity},
	}

	return m
}

// Thresholds returns the thresholds in effect.
func (m *Matcher) Thresholds() Thresholds {
	return m.thresholds
}

// SimilarityThreshold returns the similarity threshold in effect, strict or not.
func (m *Matcher) SimilarityThreshold() float64 {
	if m.strict {
		return m.thresholds.StrictSimilarity
	}
	return m.thresholds.Similarity
}

// Match returns the best record for input. No match is reported as
// StrategyNone, never as an error.
func (m *Matcher) Match(input string) Result {
	q := &query{
		raw:        input,
		lower:      lowerCollapse(input),
		normalized: normalize(input),
		tokens:     patterns.TokenSet(input),
		shapes:     patterns.DetectShapes(input),
	}

	result := Result{Strategy: StrategyNone}
	for _, s := range m.stages {
		if r, ok := s.run(q); ok {
			result = r
			break
		}
	}

	m.record(result)

	ev := m.log.Debug().
		Str("strategy", result.Strategy.String()).
		Float64("score", result.Score)
	if result.Record != nil {
		ev = ev.Int("record", result.Record.ID).Str("handler", result.Record.Handler)
	}
	if result.Rule != "" {
		ev = ev.Str("rule", result.Rule)
	}
	ev.Msg("matched query")

	return result
}

// matchExact fires when the query contains a record's full question text.
// The longest contained question wins; ties keep corpus order.
func (m *Matcher) matchExact(q *query) (Result, bool) {
	if q.normalized == "" {
		return Result{}, false
	}

	best := -1
	for i := range m.entries {
		e := &m.entries[i]
		if e.normalized == "" || !strings.Contains(q.normalized, e.normalized) {
			continue
		}
		if best < 0 || len(e.normalized) > len(m.entries[best].normalized) {
			best = i
		}
	}
	if best < 0 {
		return Result{}, false
	}

	return m.result(best, StrategyOverride, 1.0, "exact-question"), true
}

// matchOverride evaluates the override table in order.
func (m *Matcher) matchOverride(q *query) (Result, bool) {
	if q.lower == "" {
		return Result{}, false
	}

	for _, o := range m.overrides {
		if !o.Predicate(q.lower) {
			continue
		}
		for i := range m.entries {
			if corpus.HandlerMatches(m.entries[i].record.Handler, o.Handler) {
				return m.result(i, StrategyOverride, 1.0, o.Name), true
			}
		}
		m.log.Debug().Str("rule", o.Name).Str("handler", o.Handler).Msg("override fired but handler is not in corpus")
	}
	return Result{}, false
}

// matchPattern ranks records sharing at least one question shape with the
// query by 2×shared + keywordOverlap/10.
func (m *Matcher) matchPattern(q *query) (Result, bool) {
	if len(q.shapes) == 0 {
		return Result{}, false
	}

	best, bestScore := -1, 0.0
	for i := range m.entries {
		rec := &m.entries[i].record
		shared := patterns.SharedShapes(q.shapes, rec.Patterns)
		if shared == 0 {
			continue
		}

		overlap := 0
		for _, k := range rec.Keywords {
			if q.tokens[k] {
				overlap++
			}
		}

		score := 2*float64(shared) + float64(overlap)/10
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Result{}, false
	}

	return m.result(best, StrategyPattern, bestScore, ""), true
}

// matchKeyword accepts the record with the highest share of its keywords
// present in the query.
func (m *Matcher) matchKeyword(q *query) (Result, bool) {
	if q.lower == "" {
		return Result{}, false
	}

	best, bestScore := -1, 0.0
	for i := range m.entries {
		keywords := m.entries[i].record.Keywords
		matched := 0
		for _, k := range keywords {
			if strings.Contains(q.lower, k) {
				matched++
			}
		}
		score := float64(matched) / float64(max(len(keywords), 1))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < m.thresholds.Keyword {
		return Result{}, false
	}

	return m.result(best, StrategyKeyword, bestScore, ""), true
}

// matchSimilarity compares normalized texts rune by rune.
func (m *Matcher) matchSimilarity(q *query) (Result, bool) {
	if q.normalized == "" {
		return Result{}, false
	}

	qr := runeStrings(q.normalized)
	best, bestScore := -1, 0.0
	for i := range m.entries {
		if len(m.entries[i].runes) == 0 {
			continue
		}
		score := difflib.NewMatcher(qr, m.entries[i].runes).Ratio()
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < m.SimilarityThreshold() {
		return Result{}, false
	}

	return m.result(best, StrategySimilarity, bestScore, ""), true
}

// Similarity returns the similarity ratio of two texts after normalization.
func Similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" && nb == "" {
		return 1
	}
	return difflib.NewMatcher(runeStrings(na), runeStrings(nb)).Ratio()
}

// result builds a Result holding a copy of the record at index i.
func (m *Matcher) result(i int, strategy Strategy, score float64, rule string) Result {
	rec := m.entries[i].record
	return Result{
		Record:   &rec,
		Strategy: strategy,
		Score:    score,
		Rule:     rule,
	}
}

// record updates statistics under lock.
func (m *Matcher) record(r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalRequests++
	switch r.Strategy {
	case StrategyOverride:
		m.stats.OverrideHits++
	case StrategyPattern:
		m.stats.PatternHits++
	case StrategyKeyword:
		m.stats.KeywordHits++
	case StrategySimilarity:
		m.stats.SimilarityHits++
	default:
		m.stats.NoMatch++
	}
	if r.Rule != "" {
		m.stats.RuleHits[r.Rule]++
	}
	if r.Record != nil {
		m.stats.HandlerHits[r.Record.Handler]++
	}

	total := float64(m.stats.TotalRequests)
	m.stats.AverageScore = (m.stats.AverageScore*(total-1) + r.Score) / total
}

// Stats returns a copy of the current statistics.
func (m *Matcher) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.stats
	out.RuleHits = make(map[string]int64, len(m.stats.RuleHits))
	for k, v := range m.stats.RuleHits {
		out.RuleHits[k] = v
	}
	out.HandlerHits = make(map[string]int64, len(m.stats.HandlerHits))
	for k, v := range m.stats.HandlerHits {
		out.HandlerHits[k] = v
	}
	return out
}

// ResetStats clears all statistics.
func (m *Matcher) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = Stats{
		RuleHits:    make(map[string]int64),
		HandlerHits: make(map[string]int64),
	}
}
