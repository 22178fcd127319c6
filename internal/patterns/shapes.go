package patterns

import (
	"regexp"
	"strings"
)

// Shape names. A shape is a recognisable kind of question, detected the same
// way on corpus records and on incoming queries.
const (
	ShapeCodeCommand     = "code_command"
	ShapeHTTPRequest     = "http_request"
	ShapeJSONSort        = "json_sort"
	ShapeJSONHash        = "json_hash"
	ShapeEmail           = "email"
	ShapeDateRange       = "date_range"
	ShapePDFExtraction   = "pdf_extraction"
	ShapeMarkdown        = "markdown"
	ShapeGitHubPages     = "github_pages"
	ShapeGitHubRepo      = "github_repo"
	ShapeZipArchive      = "zip_archive"
	ShapeCSVData         = "csv_data"
	ShapeHiddenInput     = "hidden_input"
	ShapeUnicodeEncoding = "unicode_encoding"
	ShapeSpreadsheet     = "spreadsheet_formula"
	ShapeImagePixels     = "image_pixels"
	ShapeSQL             = "sql_query"
	ShapeLLM             = "llm_api"
	ShapeDeployAPI       = "deploy_api"
	ShapeWebScrape       = "web_scrape"
)

// Rule is a named detector. Detectors run against lower-cased text.
type Rule struct {
	Name  string
	regex *regexp.Regexp
}

// Match reports whether the rule fires on already lower-cased text.
func (r *Rule) Match(lower string) bool {
	return r.regex.MatchString(lower)
}

var shapeRules = buildShapeRules()

// buildShapeRules compiles the question shape table. Order is fixed so that
// anything iterating the table is deterministic.
func buildShapeRules() []*Rule {
	defs := []struct {
		name    string
		pattern string
	}{
		{ShapeCodeCommand, `\bcode\s+-{1,2}[a-z]+\b|\bterminal output\b`},
		{ShapeHTTPRequest, `httpbin\.org|\bhttps?\s+request\b|\bsend\s+(?:an?\s+)?https?\b|\buv\s+run\b`},
		{ShapeJSONSort, `\bsort\b.*\bjson\b|\bjson\b.*\bsort`},
		{ShapeJSONHash, `multi-?cursor|\bjson\b.*\bhash\b|\bhash\b.*\bjson\b`},
		{ShapeEmail, `[a-z0-9._%+-]+@[a-z0-9-]+\.[a-z.]{2,}|\be-?mail\b`},
		{ShapeDateRange, `\b\d{4}-\d{2}-\d{2}\b|\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)s\b|\bdate\s+range\b`},
		{ShapePDFExtraction, `\bpdf\b.*\b(?:extract|table|convert)|\b(?:extract|table|convert)\w*\b.*\bpdf\b`},
		{ShapeMarkdown, `\bmarkdown\b|\bprettier\b|readme\.md`},
		{ShapeGitHubPages, `github\s+pages|\.github\.io\b`},
		{ShapeGitHubRepo, `\bgithub\b.*\b(?:repo|repository|commit|push|action|workflow)s?\b|\bgit\s+(?:hook|commit|push)\b`},
		{ShapeZipArchive, `\.zip\b|\bzip\s+(?:file|archive)\b|\bunzip\b`},
		{ShapeCSVData, `\.csv\b|\bcsv\b`},
		{ShapeHiddenInput, `\bhidden\s+input\b`},
		{ShapeUnicodeEncoding, `\bunicode\b|\bencodings?\b|\bcp-?1252\b|\butf-?(?:8|16)\b`},
		{ShapeSpreadsheet, `\bgoogle\s+sheets\b|\bexcel\b|\b(?:sortby|array_constrain|sequence)\s*\(`},
		{ShapeImagePixels, `\bpixels?\b|\blightness\b|\bbrightness\b`},
		{ShapeSQL, `\bsql\b|\bsqlite\b|\bduckdb\b|\bselect\b.+\bfrom\b`},
		{ShapeLLM, `\bopenai\b|\bgpt-[0-9a-z.-]+\b|\bllm\b|\bembeddings?\b|\btokens\b`},
		{ShapeDeployAPI, `\bvercel\b|\bfastapi\b|\bngrok\b|\bdocker\b|\bapi\s+endpoint\b`},
		{ShapeWebScrape, `\bscrape\b|\bscraping\b|\bcrawl\b|\bimdb\b|\bwikipedia\b|\bhacker\s*news\b`},
	}

	rules := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		rules = append(rules, &Rule{Name: d.name, regex: regexp.MustCompile(d.pattern)})
	}
	return rules
}

// Shapes returns the shape rules in table order.
func Shapes() []*Rule {
	return shapeRules
}

// ShapeNames returns the shape names in table order.
func ShapeNames() []string {
	names := make([]string, len(shapeRules))
	for i, r := range shapeRules {
		names[i] = r.Name
	}
	return names
}

// DetectShapes returns the set of shapes present in text. Only shapes that
// fire are present in the map.
func DetectShapes(text string) map[string]bool {
	lower := strings.ToLower(text)
	found := make(map[string]bool)
	for _, r := range shapeRules {
		if r.Match(lower) {
			found[r.Name] = true
		}
	}
	return found
}

// SharedShapes counts shapes present in both sets.
func SharedShapes(a, b map[string]bool) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for name, ok := range a {
		if ok && b[name] {
			n++
		}
	}
	return n
}
