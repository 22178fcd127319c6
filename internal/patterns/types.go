// Package patterns holds the detector tables shared by question matching and
// file resolution: question shapes, file categories, the known-file table and
// task categories. Both sides read the same compiled tables so they never
// disagree about what a "pdf extraction" or a "data file" looks like.
package patterns

import "strings"

// Category is the coarse file type a handler expects as input.
type Category string

const (
	// CategoryImage covers raster and vector images.
	CategoryImage Category = "image"
	// CategoryDocument covers PDFs, office documents and plain text.
	CategoryDocument Category = "document"
	// CategoryData covers tabular and structured data files.
	CategoryData Category = "data"
	// CategoryArchive covers compressed archives.
	CategoryArchive Category = "archive"
	// CategoryCode covers source files and notebooks.
	CategoryCode Category = "code"
	// CategoryUnknown is used when nothing identifies the file type.
	CategoryUnknown Category = "unknown"
)

// AllCategories returns every concrete category in detection order.
// CategoryUnknown is not included.
func AllCategories() []Category {
	return []Category{
		CategoryArchive,
		CategoryImage,
		CategoryDocument,
		CategoryData,
		CategoryCode,
	}
}

// String returns the string representation of a Category.
func (c Category) String() string {
	return string(c)
}

// IsValid reports whether c is a known category, including CategoryUnknown.
func (c Category) IsValid() bool {
	if c == CategoryUnknown {
		return true
	}
	for _, valid := range AllCategories() {
		if c == valid {
			return true
		}
	}
	return false
}

// ParseCategory converts user input into a Category. Empty or unrecognised
// input yields CategoryUnknown.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" || !c.IsValid() {
		return CategoryUnknown
	}
	return c
}

// TaskCategory is the broad kind of work a query asks for.
type TaskCategory string

const (
	TaskCLI          TaskCategory = "cli_command"
	TaskAPI          TaskCategory = "api_development"
	TaskPDF          TaskCategory = "pdf_processing"
	TaskFileOps      TaskCategory = "file_operations"
	TaskWebScraping  TaskCategory = "web_scraping"
	TaskImage        TaskCategory = "image_processing"
	TaskDataAnalysis TaskCategory = "data_analysis"
	TaskGitHub       TaskCategory = "github_operations"
	TaskGeneral      TaskCategory = "general"
)

// String returns the string representation of a TaskCategory.
func (t TaskCategory) String() string {
	return string(t)
}
