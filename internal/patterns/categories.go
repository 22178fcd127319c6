package patterns

import (
	"path/filepath"
	"regexp"
	"strings"
)

// categoryRule detects a file category from free text.
type categoryRule struct {
	category   Category
	regex      *regexp.Regexp
	extensions []string
}

var categoryRules = buildCategoryRules()

func buildCategoryRules() []*categoryRule {
	defs := []struct {
		category   Category
		pattern    string
		extensions []string
	}{
		{
			CategoryArchive,
			`\.(?:zip|tar|gz|tgz|7z|rar)\b|\bzip\b|\barchive\b|\bcompressed\s+(?:file|folder)\b`,
			[]string{".zip", ".tar", ".gz", ".tgz", ".7z", ".rar"},
		},
		{
			CategoryImage,
			`\.(?:png|jpe?g|webp|gif|bmp|svg)\b|\bimage\b|\bphoto\b|\bpicture\b|\bscreenshot\b`,
			[]string{".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp", ".svg"},
		},
		{
			CategoryDocument,
			`\.(?:pdf|docx?|md|txt|pptx?|html?)\b|\bpdf\b|\bdocument\b|\bpresentation\b|\bslides\b|\breadme\b`,
			[]string{".pdf", ".docx", ".doc", ".md", ".txt", ".pptx", ".ppt", ".html", ".htm"},
		},
		{
			CategoryData,
			`\.(?:csv|xlsx?|jsonl?|tsv|parquet|db|sqlite|xml)\b|\bcsv\b|\bspreadsheet\b|\bexcel\b|\bdataset\b`,
			[]string{".csv", ".xlsx", ".xls", ".json", ".jsonl", ".tsv", ".parquet", ".db", ".sqlite", ".xml"},
		},
		{
			CategoryCode,
			`\.(?:py|js|ts|go|sh|ipynb|sql)\b|\bpython\s+script\b|\bsource\s+code\b|\bnotebook\b`,
			[]string{".py", ".js", ".ts", ".go", ".sh", ".ipynb", ".sql"},
		},
	}

	rules := make([]*categoryRule, 0, len(defs))
	for _, d := range defs {
		rules = append(rules, &categoryRule{
			category:   d.category,
			regex:      regexp.MustCompile(d.pattern),
			extensions: d.extensions,
		})
	}
	return rules
}

// DetectCategory returns the first category whose detector fires on text,
// in AllCategories order, or CategoryUnknown.
func DetectCategory(text string) Category {
	lower := strings.ToLower(text)
	for _, r := range categoryRules {
		if r.regex.MatchString(lower) {
			return r.category
		}
	}
	return CategoryUnknown
}

// MatchesCategory reports whether the detector for c fires on text.
func MatchesCategory(text string, c Category) bool {
	lower := strings.ToLower(text)
	for _, r := range categoryRules {
		if r.category == c {
			return r.regex.MatchString(lower)
		}
	}
	return false
}

// Extensions returns the file extensions (with leading dot) of category c.
func Extensions(c Category) []string {
	for _, r := range categoryRules {
		if r.category == c {
			out := make([]string, len(r.extensions))
			copy(out, r.extensions)
			return out
		}
	}
	return nil
}

// CategoryForExtension maps a file extension (with or without the dot) to
// its category.
func CategoryForExtension(ext string) Category {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, r := range categoryRules {
		for _, e := range r.extensions {
			if e == ext {
				return r.category
			}
		}
	}
	return CategoryUnknown
}

// CategoryForPath maps a file path to its category by extension.
func CategoryForPath(path string) Category {
	return CategoryForExtension(filepath.Ext(path))
}

// contextExtensions assigns an extension to remote references that carry
// none, based on words around the link. Checked in order.
var contextExtensions = []struct {
	regex *regexp.Regexp
	ext   string
}{
	{regexp.MustCompile(`\bspreadsheet\b|\bsheets?\b|\bexcel\b|\bworkbook\b`), ".xlsx"},
	{regexp.MustCompile(`\bcsv\b`), ".csv"},
	{regexp.MustCompile(`\bpdf\b`), ".pdf"},
	{regexp.MustCompile(`\bpresentation\b|\bslides?\b|\bdeck\b`), ".pptx"},
	{regexp.MustCompile(`\bdocument\b|\bdoc\b|\bword\b`), ".docx"},
	{regexp.MustCompile(`\bimage\b|\bphoto\b|\bpicture\b|\bpng\b`), ".png"},
	{regexp.MustCompile(`\bzip\b|\barchive\b`), ".zip"},
	{regexp.MustCompile(`\bjson\b`), ".json"},
}

// ContextExtension guesses an extension from the words in text. It returns
// the empty string when nothing matches.
func ContextExtension(text string) string {
	lower := strings.ToLower(text)
	for _, c := range contextExtensions {
		if c.regex.MatchString(lower) {
			return c.ext
		}
	}
	return ""
}
