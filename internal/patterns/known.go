package patterns

import "strings"

// KnownFile is a file the tool has special knowledge of: where it normally
// lives and what kind of file it is.
type KnownFile struct {
	Filename string   `json:"filename" yaml:"filename"`
	Folder   string   `json:"folder" yaml:"folder"`
	Category Category `json:"category" yaml:"category"`
}

var knownFiles = []KnownFile{
	{"q-extract-csv-zip.zip", "GA1", CategoryArchive},
	{"q-unicode-data.zip", "GA1", CategoryArchive},
	{"q-replace-across-files.zip", "GA1", CategoryArchive},
	{"q-list-files-attributes.zip", "GA1", CategoryArchive},
	{"q-move-rename-files.zip", "GA1", CategoryArchive},
	{"q-compare-files.zip", "GA1", CategoryArchive},
	{"q-multi-cursor-json.txt", "GA1", CategoryDocument},
	{"README.md", "GA1", CategoryDocument},
	{"lenna.webp", "GA2", CategoryImage},
	{"q-fastapi.csv", "GA2", CategoryData},
	{"q-vercel-python.json", "GA2", CategoryData},
	{"q-extract-tables-from-pdf.pdf", "GA4", CategoryDocument},
	{"q-pdf-to-markdown.pdf", "GA4", CategoryDocument},
	{"q-clean-up-excel-sales-data.xlsx", "GA5", CategoryData},
	{"q-clean-up-student-marks.txt", "GA5", CategoryDocument},
	{"q-parse-partial-json.jsonl", "GA5", CategoryData},
	{"q-extract-nested-json-keys.json", "GA5", CategoryData},
	{"jigsaw.webp", "GA5", CategoryImage},
}

// KnownFiles returns a copy of the known-file table.
func KnownFiles() []KnownFile {
	out := make([]KnownFile, len(knownFiles))
	copy(out, knownFiles)
	return out
}

// KnownFolders returns the distinct folders of the known-file table in
// table order.
func KnownFolders() []string {
	seen := make(map[string]bool)
	var folders []string
	for _, kf := range knownFiles {
		if !seen[kf.Folder] {
			seen[kf.Folder] = true
			folders = append(folders, kf.Folder)
		}
	}
	return folders
}

// LookupKnownFile returns the first known file whose name appears in query,
// compared case-insensitively.
func LookupKnownFile(query string) (KnownFile, bool) {
	lower := strings.ToLower(query)
	for _, kf := range knownFiles {
		if strings.Contains(lower, strings.ToLower(kf.Filename)) {
			return kf, true
		}
	}
	return KnownFile{}, false
}
