// Package matcher maps a free-text query to the single best record of the
// question corpus. Strategies run as an ordered rule table, from exact
// overrides down to fuzzy similarity, and the first confident one wins.
package matcher

import (
	"github.com/algsoch/data-science-tool/internal/corpus"
)

// Strategy names the cascade stage that produced a match.
type Strategy string

const (
	// StrategyOverride is a hand-written exact-intent rule, including an
	// exact question text contained in the query.
	StrategyOverride Strategy = "override"
	// StrategyPattern ranks records by shared question shapes.
	StrategyPattern Strategy = "pattern"
	// StrategyKeyword ranks records by the share of their keywords found in
	// the query.
	StrategyKeyword Strategy = "keyword"
	// StrategySimilarity ranks records by character-sequence similarity.
	StrategySimilarity Strategy = "similarity"
	// StrategyNone means no stage cleared its threshold.
	StrategyNone Strategy = "none"
)

// AllStrategies returns the strategies in cascade order.
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyOverride,
		StrategyPattern,
		StrategyKeyword,
		StrategySimilarity,
		StrategyNone,
	}
}

// String returns the string representation of a Strategy.
func (s Strategy) String() string {
	return string(s)
}

// IsValid checks if a Strategy is known.
func (s Strategy) IsValid() bool {
	for _, valid := range AllStrategies() {
		if s == valid {
			return true
		}
	}
	return false
}

// Result is the outcome of a single Match call.
type Result struct {
	// Record is the matched corpus record, nil when Strategy is none.
	Record *corpus.Record `json:"record,omitempty"`

	// Strategy is the cascade stage that produced the match.
	Strategy Strategy `json:"strategy"`

	// Score is the winning score in the units of its strategy: 1.0 for
	// overrides, 2×shared shapes + overlap/10 for patterns, a 0..1 share for
	// keywords and a 0..1 ratio for similarity.
	Score float64 `json:"score"`

	// Rule names the override rule that fired, if any.
	Rule string `json:"rule,omitempty"`
}

// Matched reports whether a record was found.
func (r Result) Matched() bool {
	return r.Record != nil && r.Strategy != StrategyNone
}

// Thresholds are the acceptance thresholds of the fallback stages.
type Thresholds struct {
	// Keyword is the minimum keyword share accepted by the keyword stage.
	Keyword float64 `json:"keyword" yaml:"keyword"`
	// Similarity is the minimum ratio accepted by the similarity stage.
	Similarity float64 `json:"similarity" yaml:"similarity"`
	// StrictSimilarity replaces Similarity when strict mode is on.
	StrictSimilarity float64 `json:"strict_similarity" yaml:"strict_similarity"`
}

const (
	// DefaultKeywordThreshold is the minimum keyword share.
	DefaultKeywordThreshold = 0.3
	// DefaultSimilarityThreshold is the minimum similarity ratio.
	DefaultSimilarityThreshold = 0.4
	// DefaultStrictSimilarityThreshold is used for exact-file routing.
	DefaultStrictSimilarityThreshold = 0.5
)

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Keyword:          DefaultKeywordThreshold,
		Similarity:       DefaultSimilarityThreshold,
		StrictSimilarity: DefaultStrictSimilarityThreshold,
	}
}

// Stats tracks matcher usage.
type Stats struct {
	TotalRequests  int64            `json:"total_requests"`
	OverrideHits   int64            `json:"override_hits"`
	PatternHits    int64            `json:"pattern_hits"`
	KeywordHits    int64            `json:"keyword_hits"`
	SimilarityHits int64            `json:"similarity_hits"`
	NoMatch        int64            `json:"no_match"`
	AverageScore   float64          `json:"average_score"`
	RuleHits       map[string]int64 `json:"rule_hits"`
	HandlerHits    map[string]int64 `json:"handler_hits"`
}
