package matcher

import "strings"

// Override is a highest-priority rule: when Predicate fires on the
// lower-cased query, the first record whose handler ends with Handler wins.
type Override struct {
	Name      string
	Handler   string
	Predicate func(lower string) bool
}

// containsAll reports whether every needle occurs in s.
func containsAll(s string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(s, n) {
			return false
		}
	}
	return true
}

// containsAny reports whether at least one needle occurs in s.
func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// DefaultOverrides returns the stock override table in evaluation order.
func DefaultOverrides() []Override {
	return []Override{
		{
			Name:    "unicode-zip",
			Handler: "GA1/twelfth.py",
			Predicate: func(q string) bool {
				return strings.Contains(q, "zip") &&
					containsAny(q, "unicode", "encoding", "cp-1252", "cp1252", "utf-16")
			},
		},
		{
			Name:    "multi-cursor-json",
			Handler: "GA1/tenth.py",
			Predicate: func(q string) bool {
				return containsAny(q, "multi-cursor", "multi cursor", "multicursor") &&
					strings.Contains(q, "json")
			},
		},
		{
			Name:    "hidden-input",
			Handler: "GA1/eleventh.py",
			Predicate: func(q string) bool {
				return strings.Contains(q, "hidden input") && containsAny(q, "secret", "value")
			},
		},
		{
			Name:    "extract-csv-zip",
			Handler: "GA1/eighth.py",
			Predicate: func(q string) bool {
				return containsAll(q, "extract", ".zip", "csv")
			},
		},
		{
			Name:    "code-s",
			Handler: "GA1/first.py",
			Predicate: func(q string) bool {
				return strings.Contains(q, "code -s") || containsAll(q, "output", "code")
			},
		},
		{
			Name:    "pdf-extract",
			Handler: "GA4/ninth.py",
			Predicate: func(q string) bool {
				return containsAll(q, "extract", "pdf")
			},
		},
		{
			Name:    "https-request",
			Handler: "GA1/second.py",
			Predicate: func(q string) bool {
				return containsAll(q, "https", "request")
			},
		},
	}
}
