package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/algsoch/data-science-tool/internal/download"
	"github.com/algsoch/data-science-tool/internal/patterns"
	"github.com/algsoch/data-science-tool/internal/signature"
)

const (
	// DefaultCacheSize is the number of resolutions kept.
	DefaultCacheSize = 256
	// DefaultRecentWindow bounds how old a file may be for the recent scan.
	DefaultRecentWindow = time.Hour
)

// DefaultCategoryFolders returns the per-category folder preference list
// probed for the default path's base name.
func DefaultCategoryFolders() map[patterns.Category][]string {
	return map[patterns.Category][]string{
		patterns.CategoryImage:    {"GA2", "GA5", "GA1", "GA4"},
		patterns.CategoryDocument: {"GA4", "GA1", "GA2", "GA5"},
		patterns.CategoryData:     {"GA1", "GA5", "GA4", "GA2"},
		patterns.CategoryArchive:  {"GA1", "GA2", "GA4", "GA5"},
		patterns.CategoryCode:     {"GA1", "GA2", "GA4", "GA5"},
		patterns.CategoryUnknown:  {"GA1", "GA2", "GA4", "GA5"},
	}
}

type cacheKey struct {
	defaultPath string
	query       string
	category    patterns.Category
}

// Resolver runs the resolution chain. It is safe for concurrent use; the
// cache, the tracked temp directories and the download memo are shared.
type Resolver struct {
	baseDir      string
	workDir      string
	scanDirs     []string
	folders      map[patterns.Category][]string
	recentWindow time.Duration
	cacheSize    int
	tempDir      string

	fetcher  Fetcher
	uploads  UploadLookup
	signer   *signature.Signer
	observer Observer
	log      zerolog.Logger
	now      func() time.Time

	steps  []step
	cache  *lru.Cache[cacheKey, FileReference]
	flight singleflight.Group

	mu         sync.Mutex
	tempRoot   string
	ownsRoot   bool
	tempDirs   []string
	downloads  map[string]string
	extracted  map[string]string
	lastSource Source
	hits       int64
	misses     int64
}

// Option is a functional option for configuring Resolver.
type Option func(*Resolver)

// WithBaseDir sets the directory holding the category folders.
func WithBaseDir(dir string) Option {
	return func(r *Resolver) {
		r.baseDir = dir
	}
}

// WithWorkDir sets the directory relative paths are resolved against.
// Defaults to the process working directory.
func WithWorkDir(dir string) Option {
	return func(r *Resolver) {
		r.workDir = dir
	}
}

// WithScanDirs sets the upload and temp directories for the recent scan.
func WithScanDirs(dirs ...string) Option {
	return func(r *Resolver) {
		r.scanDirs = append([]string(nil), dirs...)
	}
}

// WithCategoryFolders replaces the per-category folder preference list.
func WithCategoryFolders(folders map[patterns.Category][]string) Option {
	return func(r *Resolver) {
		if len(folders) > 0 {
			r.folders = folders
		}
	}
}

// WithRecentWindow sets how recent a file must be for the recent scan.
func WithRecentWindow(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.recentWindow = d
		}
	}
}

// WithCacheSize sets the resolution cache capacity.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// WithTempDir sets the root for extraction directories. Without it a
// private directory is created on first use and removed by Close.
func WithTempDir(dir string) Option {
	return func(r *Resolver) {
		r.tempDir = dir
	}
}

// WithFetcher sets the downloader used for remote references.
func WithFetcher(f Fetcher) Option {
	return func(r *Resolver) {
		r.fetcher = f
	}
}

// WithUploads sets the registry used to resolve upload IDs.
func WithUploads(u UploadLookup) Option {
	return func(r *Resolver) {
		r.uploads = u
	}
}

// WithSigner sets the content signer.
func WithSigner(s *signature.Signer) Option {
	return func(r *Resolver) {
		if s != nil {
			r.signer = s
		}
	}
}

// WithObserver reports resolution outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// New creates a Resolver.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		folders:      DefaultCategoryFolders(),
		recentWindow: DefaultRecentWindow,
		cacheSize:    DefaultCacheSize,
		signer:       signature.New(),
		log:          zerolog.Nop(),
		now:          time.Now,
		downloads:    make(map[string]string),
		extracted:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		r.workDir = wd
	}
	if r.baseDir == "" {
		r.baseDir = r.workDir
	}
	if r.fetcher == nil {
		r.fetcher = download.New(download.WithDir(r.tempDir), download.WithLogger(r.log))
	}

	cache, err := lru.New[cacheKey, FileReference](r.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolution cache: %w", err)
	}
	r.cache = cache

	r.steps = []step{
		{SourceUpload, r.fromUploadMarkers},
		{SourceURL, r.fromURL},
		{SourceRecentUpload, r.fromRecentUploads},
		{SourceQueryPath, r.fromPathLiterals},
		{SourceKnownFile, r.fromKnownFiles},
		{SourceFilenameSearch, r.fromFilenameSearch},
	}

	return r, nil
}

// BaseDir returns the directory holding the category folders.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// Resolve finds the file for defaultPath and query. It never fails: an
// unresolved reference comes back with Exists false.
func (r *Resolver) Resolve(ctx context.Context, defaultPath, query string, expected patterns.Category) FileReference {
	key := cacheKey{defaultPath: defaultPath, query: query, category: expected}

	if ref, ok := r.cached(key); ok {
		// The path is reused, the content may have changed in place.
		ref.Signature = r.sign(ref.Path)
		r.cache.Add(key, ref)
		r.finish(ref, true)
		return ref
	}

	ref := r.resolve(ctx, defaultPath, query, expected)
	if ref.Exists {
		r.cache.Add(key, ref)
	}
	r.finish(ref, false)
	return ref
}

// GetFile resolves identifier like Resolve. When required is set and nothing
// exists, the error wraps ErrFileNotFound.
func (r *Resolver) GetFile(ctx context.Context, identifier, query string, expected patterns.Category, required bool) (FileReference, error) {
	ref := r.Resolve(ctx, identifier, query, expected)
	if required && !ref.Exists {
		if ref.Err != nil {
			return ref, fmt.Errorf("%w: %s: %w", ErrFileNotFound, identifier, ref.Err)
		}
		return ref, fmt.Errorf("%w: %s", ErrFileNotFound, identifier)
	}
	return ref, nil
}

// cached returns a cache entry whose file still exists. Stale entries are
// evicted.
func (r *Resolver) cached(key cacheKey) (FileReference, bool) {
	ref, ok := r.cache.Get(key)
	if ok && !fileExists(ref.Path) {
		r.cache.Remove(key)
		ok = false
	}

	r.mu.Lock()
	if ok {
		r.hits++
	} else {
		r.misses++
	}
	r.mu.Unlock()

	return ref, ok
}

func (r *Resolver) finish(ref FileReference, cached bool) {
	r.mu.Lock()
	r.lastSource = ref.Source
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ObserveResolve(ref.Source.String(), ref.Exists, cached)
	}

	r.log.Debug().
		Str("source", ref.Source.String()).
		Str("path", ref.Path).
		Bool("exists", ref.Exists).
		Bool("cached", cached).
		Msg("resolved file")
}

// LastSource returns the source of the most recent resolution.
func (r *Resolver) LastSource() Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSource
}

// CacheStats returns resolution cache statistics.
func (r *Resolver) CacheStats() CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := CacheStats{
		Hits:    r.hits,
		Misses:  r.misses,
		Size:    r.cache.Len(),
		MaxSize: r.cacheSize,
	}
	if total := r.hits + r.misses; total > 0 {
		stats.HitRate = float64(r.hits) / float64(total)
	}
	return stats
}

// TempDirs returns the directories the resolver will remove on Close.
func (r *Resolver) TempDirs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tempDirs...)
}

// Close removes every tracked temp directory and empties the cache. The
// resolver stays usable afterwards.
func (r *Resolver) Close() error {
	r.mu.Lock()
	dirs := r.tempDirs
	if r.ownsRoot && r.tempRoot != "" {
		dirs = append(dirs, r.tempRoot)
	}
	r.tempDirs = nil
	r.tempRoot = ""
	r.ownsRoot = false
	r.downloads = make(map[string]string)
	r.extracted = make(map[string]string)
	r.mu.Unlock()

	r.cache.Purge()

	var errs []error
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// track registers dir for removal on Close.
func (r *Resolver) track(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.tempDirs {
		if d == dir {
			return
		}
	}
	r.tempDirs = append(r.tempDirs, dir)
}

// ensureTempRoot returns the extraction root, creating a private one on
// first use when none is configured.
func (r *Resolver) ensureTempRoot() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tempRoot != "" {
		return r.tempRoot, nil
	}
	if r.tempDir != "" {
		if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
		r.tempRoot = r.tempDir
		return r.tempRoot, nil
	}

	dir, err := os.MkdirTemp("", "tds-resolver-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	r.tempRoot, r.ownsRoot = dir, true
	return dir, nil
}

// abs resolves p against the working directory.
func (r *Resolver) abs(p string) string {
	p = expandHome(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.workDir, p)
	}
	return filepath.Clean(p)
}

// reference builds an existing FileReference for path.
func (r *Resolver) reference(path string, source Source, expected patterns.Category) FileReference {
	path = r.abs(path)
	ref := FileReference{
		Path:      path,
		Exists:    true,
		Category:  patterns.CategoryForPath(path),
		Extension: strings.ToLower(filepath.Ext(path)),
		Source:    source,
	}
	if ref.Category == patterns.CategoryUnknown && expected != "" {
		ref.Category = expected
	}

	ref.Signature = r.sign(path)
	return ref
}

// sign returns the content signature of path, or "" when it cannot be read.
func (r *Resolver) sign(path string) string {
	sig, err := r.signer.Compute(path)
	if err != nil {
		r.log.Debug().Err(err).Str("path", path).Msg("no content signature")
		return ""
	}
	return sig
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
