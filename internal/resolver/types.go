// Package resolver turns a handler's default input path plus the user's query
// into a concrete file on disk. A priority-ordered chain of steps looks for
// uploads, remote links, recent files, literal paths, known files and loose
// names before falling back to the default path and its category folders.
package resolver

import (
	"context"
	"errors"

	"github.com/algsoch/data-science-tool/internal/patterns"
)

var (
	// ErrFileNotFound is returned by GetFile when a required file could not
	// be resolved.
	ErrFileNotFound = errors.New("required file not found")

	// ErrArchiveCorrupt is returned when an archive cannot be read or holds
	// entries that escape the extraction directory.
	ErrArchiveCorrupt = errors.New("archive is corrupt")

	// ErrArchiveUnsupported is returned for archive formats other than ZIP.
	ErrArchiveUnsupported = errors.New("archive format not supported")
)

// Source tags the chain step that produced a FileReference.
type Source string

const (
	SourceUpload           Source = "upload"
	SourceRecentUpload     Source = "recentUpload"
	SourceQueryPath        Source = "queryPath"
	SourceURL              Source = "url"
	SourceKnownFile        Source = "knownFile"
	SourceFilenameSearch   Source = "filenameSearch"
	SourceCategoryFolder   Source = "categoryFolder"
	SourceSiblingExtension Source = "siblingExtension"
	SourceDefault          Source = "default"
)

// AllSources returns the sources in chain order.
func AllSources() []Source {
	return []Source{
		SourceUpload,
		SourceURL,
		SourceRecentUpload,
		SourceQueryPath,
		SourceKnownFile,
		SourceFilenameSearch,
		SourceDefault,
		SourceCategoryFolder,
		SourceSiblingExtension,
	}
}

// String returns the string representation of a Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if a Source is known.
func (s Source) IsValid() bool {
	for _, valid := range AllSources() {
		if s == valid {
			return true
		}
	}
	return false
}

// FileReference is the outcome of one resolution.
type FileReference struct {
	// Path is the local path. For an unresolved reference it is the
	// default path as given.
	Path string `json:"path"`

	// Exists reports whether Path exists locally. Remote references are
	// staged before they are returned, so Exists never means "remote only".
	Exists bool `json:"exists"`

	Category  patterns.Category `json:"category"`
	Extension string            `json:"extension,omitempty"`

	// IsRemote stays true only when a remote address could not be staged.
	IsRemote bool   `json:"is_remote"`
	Source   Source `json:"source"`

	// Signature is the content signature of an existing regular file.
	Signature string `json:"signature,omitempty"`

	// URL is the remote address the file was downloaded from.
	URL string `json:"url,omitempty"`

	// Err is the download failure for an unstaged remote reference.
	Err error `json:"-"`
}

// CacheStats reports resolution cache usage.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	HitRate float64 `json:"hit_rate"`
}

// Fetcher stages a remote file locally. The returned path lives in a
// directory the resolver takes ownership of.
type Fetcher interface {
	Download(ctx context.Context, rawURL, desiredName string) (string, error)
}

// UploadLookup maps an upload registry ID to a local path.
type UploadLookup interface {
	Lookup(id string) (string, bool)
}

// Observer receives one event per Resolve call.
type Observer interface {
	ObserveResolve(source string, exists, cached bool)
}
