package matcher

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algsoch/data-science-tool/internal/corpus"
)

func defaultMatcher(t *testing.T, opts ...Option) *Matcher {
	t.Helper()
	c, err := corpus.Default()
	require.NoError(t, err)
	return New(c, opts...)
}

func customMatcher(t *testing.T, doc string, opts ...Option) *Matcher {
	t.Helper()
	c, err := corpus.Parse("test", []byte(doc))
	require.NoError(t, err)
	return New(c, opts...)
}

func TestNew_Defaults(t *testing.T) {
	m := defaultMatcher(t)

	assert.Equal(t, DefaultThresholds(), m.Thresholds())
	assert.Equal(t, DefaultSimilarityThreshold, m.SimilarityThreshold())
	assert.Len(t, m.overrides, len(DefaultOverrides()))
	assert.Len(t, m.stages, 5)
}

func TestOptions(t *testing.T) {
	m := defaultMatcher(t,
		WithThresholds(Thresholds{Keyword: 0.6}),
		WithStrictSimilarity(true),
	)

	assert.Equal(t, 0.6, m.Thresholds().Keyword)
	assert.Equal(t, DefaultSimilarityThreshold, m.Thresholds().Similarity)
	assert.Equal(t, DefaultStrictSimilarityThreshold, m.SimilarityThreshold())
}

func TestMatch_ExactQuestionText(t *testing.T) {
	m := defaultMatcher(t)
	c, err := corpus.Default()
	require.NoError(t, err)

	for _, rec := range c.Records() {
		t.Run(rec.Handler, func(t *testing.T) {
			for _, q := range []string{
				rec.Question,
				strings.ToUpper(rec.Question),
				rec.Question + " The file data.zip is located at /tmp/uploads/data.zip",
			} {
				got := m.Match(q)
				require.True(t, got.Matched())
				assert.Equal(t, rec.Question, got.Record.Question)
				assert.Contains(t, []Strategy{StrategyOverride, StrategyPattern}, got.Strategy)
				assert.GreaterOrEqual(t, got.Score, m.SimilarityThreshold())
			}
		})
	}
}

func TestMatch_Scenarios(t *testing.T) {
	m := defaultMatcher(t)

	tests := []struct {
		name     string
		query    string
		strategy Strategy
		handler  string
		rule     string
	}{
		{
			name:     "extract csv from zip override",
			query:    "Download q-extract-csv-zip.zip, extract it and tell me the answer in the CSV",
			strategy: StrategyOverride,
			handler:  "GA1/eighth.py",
			rule:     "extract-csv-zip",
		},
		{
			name:     "unicode zip override wins over extract",
			query:    "extract the csv files from the zip with different encodings and sum the values",
			strategy: StrategyOverride,
			handler:  "GA1/twelfth.py",
			rule:     "unicode-zip",
		},
		{
			name:     "code -s override",
			query:    "what does code -s print",
			strategy: StrategyOverride,
			handler:  "GA1/first.py",
			rule:     "code-s",
		},
		{
			name:     "physics keyword fallback",
			query:    "physics marks maths groups 1-25 students pdf",
			strategy: StrategyKeyword,
			handler:  "GA4/ninth.py",
		},
		{
			name:     "json sort by pattern",
			query:    "Sort this JSON array by age then name please",
			strategy: StrategyPattern,
			handler:  "GA1/ninth.py",
		},
		{
			name:     "no match",
			query:    "what's the weather like on Mars",
			strategy: StrategyNone,
		},
		{
			name:     "empty",
			query:    "",
			strategy: StrategyNone,
		},
		{
			name:     "garbage",
			query:    "%%% ### !!!",
			strategy: StrategyNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(tt.query)
			assert.Equal(t, tt.strategy, got.Strategy)
			if tt.strategy == StrategyNone {
				assert.Nil(t, got.Record)
				assert.False(t, got.Matched())
				return
			}
			require.NotNil(t, got.Record)
			assert.Equal(t, tt.handler, got.Record.Handler)
			assert.Equal(t, tt.rule, got.Rule)
		})
	}
}

func TestMatch_PhysicsKeywordScore(t *testing.T) {
	m := defaultMatcher(t)

	got := m.Match("physics marks maths groups 1-25 students pdf")
	require.Equal(t, StrategyKeyword, got.Strategy)
	assert.InDelta(t, 6.0/7.0, got.Score, 1e-9)
}

func TestMatch_PatternTieBreaking(t *testing.T) {
	doc := `[
		{"question":"Sort the JSON list by age","file":"first.py","keywords":["alpha"]},
		{"question":"Sort the JSON list by name","file":"second.py","keywords":["name"]}
	]`
	m := customMatcher(t, doc)

	got := m.Match("please sort json")
	require.Equal(t, StrategyPattern, got.Strategy)
	assert.Equal(t, "first.py", got.Record.Handler)
	assert.Equal(t, 2.0, got.Score)

	got = m.Match("sort json by name")
	require.Equal(t, StrategyPattern, got.Strategy)
	assert.Equal(t, "second.py", got.Record.Handler)
	assert.InDelta(t, 2.1, got.Score, 1e-9)
}

func TestMatch_KeywordThreshold(t *testing.T) {
	doc := `[
		{"question":"First record","file":"a.py","keywords":["alpha","beta","gamma","delta","epsilon","sigma","omega","kappa","iota","tau"]},
		{"question":"Second record","file":"b.py","keywords":["lambda","omicron"]}
	]`
	m := customMatcher(t, doc)

	got := m.Match("alpha beta gamma")
	assert.Equal(t, StrategyKeyword, got.Strategy)
	assert.Equal(t, "a.py", got.Record.Handler)
	assert.InDelta(t, 0.3, got.Score, 1e-9)

	got = m.Match("alpha beta")
	assert.Equal(t, StrategyNone, got.Strategy)

	got = m.Match("lambda")
	assert.Equal(t, StrategyKeyword, got.Strategy)
	assert.Equal(t, "b.py", got.Record.Handler)
}

func TestMatch_Similarity(t *testing.T) {
	doc := `[
		{"question":"Compute the median household income for each county","file":"income.py","keywords":["xyzzy"]},
		{"question":"List every planet ordered by distance from the sun","file":"planets.py","keywords":["plugh"]}
	]`

	tests := []struct {
		name     string
		opts     []Option
		query    string
		strategy Strategy
		handler  string
	}{
		{"close paraphrase", nil, "compute the median household incomes per county", StrategySimilarity, "income.py"},
		{"accents folded", nil, "Médian HOUSEHOLD income", StrategySimilarity, "income.py"},
		{"other record", nil, "planets by distance", StrategySimilarity, "planets.py"},
		{"just above threshold", nil, "median income", StrategySimilarity, "income.py"},
		{"strict rejects", []Option{WithStrictSimilarity(true)}, "median income", StrategyNone, ""},
		{"raised threshold", []Option{WithThresholds(Thresholds{Similarity: 0.95})}, "compute the median household incomes per county", StrategyNone, ""},
		{"unrelated", nil, "the county income", StrategyNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := customMatcher(t, doc, tt.opts...)
			got := m.Match(tt.query)
			assert.Equal(t, tt.strategy, got.Strategy)
			if tt.handler != "" {
				require.NotNil(t, got.Record)
				assert.Equal(t, tt.handler, got.Record.Handler)
				assert.GreaterOrEqual(t, got.Score, m.SimilarityThreshold())
			}
		})
	}
}

func TestMatch_Deterministic(t *testing.T) {
	m := defaultMatcher(t)

	for _, q := range []string{
		"physics marks maths groups 1-25 students pdf",
		"Sort this JSON array by age then name please",
		"how many wednesdays are in a date range",
		"what's the weather like on Mars",
	} {
		first := m.Match(q)
		for i := 0; i < 5; i++ {
			if diff := cmp.Diff(first, m.Match(q)); diff != "" {
				t.Fatalf("Match(%q) not deterministic (-first +again):\n%s", q, diff)
			}
		}
	}
}

func TestMatch_OverrideWithoutHandlerFallsThrough(t *testing.T) {
	doc := `[{"question":"Tell me about the hidden input on the page","file":"x.py","keywords":["hidden"]}]`
	m := customMatcher(t, doc)

	got := m.Match("hidden input secret")
	assert.Equal(t, StrategyPattern, got.Strategy)
	assert.Equal(t, "x.py", got.Record.Handler)
}

func TestWithOverrides(t *testing.T) {
	custom := []Override{{
		Name:      "always-planets",
		Handler:   "planets.py",
		Predicate: func(q string) bool { return strings.Contains(q, "orbit") },
	}}
	doc := `[
		{"question":"Compute the median household income","file":"income.py"},
		{"question":"List every planet","file":"planets.py"}
	]`
	m := customMatcher(t, doc, WithOverrides(custom))

	got := m.Match("ORBIT")
	assert.Equal(t, StrategyOverride, got.Strategy)
	assert.Equal(t, "always-planets", got.Rule)
	assert.Equal(t, "planets.py", got.Record.Handler)
}

func TestStats(t *testing.T) {
	m := defaultMatcher(t)

	m.Match("What is the output of code -s?")
	m.Match("physics marks maths groups 1-25 students pdf")
	m.Match("what's the weather like on Mars")

	stats := m.Stats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.OverrideHits)
	assert.Equal(t, int64(1), stats.KeywordHits)
	assert.Equal(t, int64(1), stats.NoMatch)
	assert.Equal(t, int64(1), stats.HandlerHits["GA4/ninth.py"])
	assert.Greater(t, stats.AverageScore, 0.0)

	stats.RuleHits["mutated"] = 99
	assert.NotContains(t, m.Stats().RuleHits, "mutated")

	m.ResetStats()
	assert.Equal(t, int64(0), m.Stats().TotalRequests)
}

func TestMatch_Concurrent(t *testing.T) {
	m := defaultMatcher(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.Match("physics marks maths groups 1-25 students pdf")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(160), m.Stats().KeywordHits)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Hello, World!", "hello world"))
	assert.Equal(t, 1.0, Similarity("", "  "))
	assert.Less(t, Similarity("abc", "xyz"), 0.1)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  What's   the\tweather?  ", "whats the weather"},
		{"Café CRÈME", "cafe creme"},
		{"code -s", "code s"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalize(tt.in), "normalize(%q)", tt.in)
	}
}

func TestStrategy(t *testing.T) {
	for _, s := range AllStrategies() {
		assert.True(t, s.IsValid())
	}
	assert.False(t, Strategy("bogus").IsValid())
	assert.Equal(t, "keyword", StrategyKeyword.String())
}
