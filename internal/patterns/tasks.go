package patterns

import (
	"regexp"
	"strings"
)

// taskRule is a weighted pattern for one task category, in the style of a
// fast intent classifier: every matching pattern adds its weight.
type taskRule struct {
	regex  *regexp.Regexp
	weight float64
}

var taskOrder = []TaskCategory{
	TaskCLI,
	TaskAPI,
	TaskPDF,
	TaskFileOps,
	TaskWebScraping,
	TaskImage,
	TaskDataAnalysis,
	TaskGitHub,
}

var taskRules = buildTaskRules()

func buildTaskRules() map[TaskCategory][]*taskRule {
	p := func(pattern string, weight float64) *taskRule {
		return &taskRule{regex: regexp.MustCompile(pattern), weight: weight}
	}
	return map[TaskCategory][]*taskRule{
		TaskCLI: {
			p(`\bcode\s+(?:-[a-z]+\s*)+`, 1.0),
			p(`\brun\s+command\b`, 0.8),
			p(`\bexecute\s+(?:shell|bash|terminal|cmd)\b`, 0.8),
			p(`\bterminal output\b`, 0.8),
		},
		TaskAPI: {
			p(`\bapi\b`, 0.5),
			p(`\brest\b`, 0.4),
			p(`\bendpoint\b`, 0.6),
			p(`\b(?:fastapi|flask|django)\b`, 0.9),
			p(`\bdeploy`, 0.6),
		},
		TaskPDF: {
			p(`\bpdf\b`, 0.8),
			p(`\bextract\s+tables\b`, 0.7),
			p(`\bconvert\s+pdf\b`, 0.9),
			p(`\bpdf\s+to\s+(?:csv|markdown|text)\b`, 1.0),
			p(`\bmarkdown\b`, 0.4),
		},
		TaskFileOps: {
			p(`\bfile\b`, 0.2),
			p(`\bzip\b`, 0.6),
			p(`\bextract\b`, 0.4),
			p(`\b(?:move|rename|copy)\b`, 0.5),
			p(`\blist\s+attributes\b`, 0.8),
			p(`\bdirectory\b`, 0.4),
		},
		TaskWebScraping: {
			p(`\bscrape|\bcrawl`, 0.9),
			p(`\bimdb\b`, 0.9),
			p(`\bwebsite\b`, 0.5),
			p(`\bhtml\b`, 0.4),
			p(`\bweb\s+data\b`, 0.7),
		},
		TaskImage: {
			p(`\b(?:image|photo|picture)\b`, 0.7),
			p(`\b(?:compress|resize|optimi[sz]e)\b`, 0.5),
			p(`\b(?:png|jpe?g|webp)\b`, 0.6),
		},
		TaskDataAnalysis: {
			p(`\banaly[sz]e\b`, 0.6),
			p(`\bstatistics\b`, 0.6),
			p(`\b(?:chart|graph|plot)\b`, 0.6),
			p(`\bdata\s+visuali[sz]ation\b`, 0.9),
			p(`\b(?:pandas|numpy)\b`, 0.8),
		},
		TaskGitHub: {
			p(`\bgithub\b`, 0.9),
			p(`\bgit\b`, 0.6),
			p(`\brepo(?:sitory)?\b`, 0.5),
			p(`\b(?:commit|push)\b`, 0.5),
		},
	}
}

// ClassifyTask returns the task category with the highest summed weight.
// Ties keep the earlier category in taskOrder. A query that matches nothing
// is TaskGeneral.
func ClassifyTask(query string) TaskCategory {
	lower := strings.ToLower(query)

	best := TaskGeneral
	var bestScore float64
	for _, cat := range taskOrder {
		var score float64
		for _, r := range taskRules[cat] {
			if r.regex.MatchString(lower) {
				score += r.weight
			}
		}
		if score > bestScore {
			best, bestScore = cat, score
		}
	}
	return best
}

// Parameters are the literal arguments found in a query, handed to the
// handler alongside the resolved file.
type Parameters struct {
	Files   []string `json:"files,omitempty"`
	Numbers []string `json:"numbers,omitempty"`
	URLs    []string `json:"urls,omitempty"`
	Flags   []string `json:"flags,omitempty"`
}

// Empty reports whether no parameter was found.
func (p Parameters) Empty() bool {
	return len(p.Files) == 0 && len(p.Numbers) == 0 && len(p.URLs) == 0 && len(p.Flags) == 0
}

var (
	paramFileRe   = regexp.MustCompile(`(?:^|\s)([A-Za-z0-9_\-]+\.(?:py|zip|pdf|txt|csv|json|jsonl|md|png|jpe?g|webp|xlsx))(?:[\s,.;:)]|$)`)
	paramNumberRe = regexp.MustCompile(`(?:^|\s)(\d+)(?:[\s,.;:)]|$)`)
	paramURLRe    = regexp.MustCompile(`https?://[^\s"'<>]+`)
	paramFlagRe   = regexp.MustCompile(`(?:^|\s)(-{1,2}[A-Za-z0-9][A-Za-z0-9-]*)`)
)

// ExtractParameters pulls filenames, standalone numbers, URLs and
// command-line flags out of query, in order of appearance.
func ExtractParameters(query string) Parameters {
	var p Parameters
	for _, m := range paramFileRe.FindAllStringSubmatch(query, -1) {
		p.Files = appendUnique(p.Files, m[1])
	}
	for _, m := range paramNumberRe.FindAllStringSubmatch(query, -1) {
		p.Numbers = appendUnique(p.Numbers, m[1])
	}
	for _, u := range paramURLRe.FindAllString(query, -1) {
		p.URLs = appendUnique(p.URLs, strings.TrimRight(u, ".,;:)"))
	}
	for _, m := range paramFlagRe.FindAllStringSubmatch(query, -1) {
		p.Flags = appendUnique(p.Flags, m[1])
	}
	return p
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
