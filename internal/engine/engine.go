// Package engine composes question matching and file resolution into the
// single Answer entry point handed to handler dispatchers. An Engine owns
// all process state: the corpus, the resolution cache, tracked temp dirs
// and the upload registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/algsoch/data-science-tool/internal/config"
	"github.com/algsoch/data-science-tool/internal/corpus"
	"github.com/algsoch/data-science-tool/internal/download"
	"github.com/algsoch/data-science-tool/internal/matcher"
	"github.com/algsoch/data-science-tool/internal/metrics"
	"github.com/algsoch/data-science-tool/internal/patterns"
	"github.com/algsoch/data-science-tool/internal/resolver"
	"github.com/algsoch/data-science-tool/internal/signature"
	"github.com/algsoch/data-science-tool/internal/uploads"
)

// FileHint is a file supplied with a request, either as content or as an
// existing local path.
type FileHint struct {
	Name string
	Data io.Reader
	Path string
}

// Request is one question to answer.
type Request struct {
	Query    string
	File     *FileHint
	Category patterns.Category
}

// Dispatch is everything a handler needs to answer a matched question.
type Dispatch struct {
	HandlerID        string                  `json:"handler_id,omitempty"`
	ResolvedFilePath string                  `json:"resolved_file_path,omitempty"`
	MatchScore       float64                 `json:"match_score"`
	MatchStrategy    matcher.Strategy        `json:"match_strategy"`
	Question         string                  `json:"question,omitempty"`
	File             *resolver.FileReference `json:"file,omitempty"`
	ExtractedDir     string                  `json:"extracted_dir,omitempty"`
	TaskCategory     patterns.TaskCategory   `json:"task_category"`
	Parameters       patterns.Parameters     `json:"parameters"`
	UploadID         string                  `json:"upload_id,omitempty"`
	Query            string                  `json:"query"`
}

// Matched reports whether a handler was selected.
func (d Dispatch) Matched() bool {
	return d.HandlerID != ""
}

// Dispatcher runs the handler named by a Dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Dispatch) error
}

// Engine answers questions against one corpus.
type Engine struct {
	corpus   *corpus.Corpus
	matcher  *matcher.Matcher
	resolver *resolver.Resolver
	uploads  *uploads.Registry
	metrics  *metrics.Metrics

	dispatcher Dispatcher
	fetcher    resolver.Fetcher
	log        zerolog.Logger
}

// Option is a functional option for configuring Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithDispatcher hands every matched Dispatch to d.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithCorpus uses c instead of loading the configured corpus.
func WithCorpus(c *corpus.Corpus) Option {
	return func(e *Engine) {
		e.corpus = c
	}
}

// WithFetcher replaces the configured downloader.
func WithFetcher(f resolver.Fetcher) Option {
	return func(e *Engine) {
		e.fetcher = f
	}
}

// New builds an Engine from cfg. A corpus that cannot be loaded is fatal.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}

	if e.corpus == nil {
		c, err := loadCorpus(cfg.Paths.CorpusPath)
		if err != nil {
			return nil, err
		}
		e.corpus = c
	}
	e.log.Info().Str("source", e.corpus.Source()).Int("records", e.corpus.Len()).Msg("corpus loaded")

	if cfg.Metrics.Enabled {
		e.metrics = metrics.New()
	}

	e.matcher = matcher.New(e.corpus,
		matcher.WithThresholds(cfg.Matcher.Thresholds()),
		matcher.WithStrictSimilarity(cfg.Matcher.Strict),
		matcher.WithLogger(e.log.With().Str("component", "matcher").Logger()),
	)

	if e.fetcher == nil {
		d, err := e.newDownloader(ctx, cfg)
		if err != nil {
			return nil, err
		}
		e.fetcher = d
	}

	regOpts := []uploads.Option{uploads.WithLogger(e.log.With().Str("component", "uploads").Logger())}
	if e.metrics != nil {
		regOpts = append(regOpts, uploads.WithOnRegister(func(u uploads.Upload) {
			e.metrics.ObserveUpload(u.Category.String())
		}))
	}
	reg, err := uploads.Open(ctx, cfg.Uploads.DBPath, cfg.Uploads.Dir, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("open upload registry: %w", err)
	}
	e.uploads = reg

	if cfg.Uploads.LoadExisting {
		n, err := reg.LoadExisting(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("could not load existing uploads")
		} else if n > 0 {
			e.log.Info().Int("count", n).Msg("registered existing uploads")
		}
	}

	resOpts := []resolver.Option{
		resolver.WithBaseDir(cfg.Paths.BaseDir),
		resolver.WithWorkDir(cfg.Paths.WorkDir),
		resolver.WithScanDirs(append([]string{reg.Dir()}, cfg.Resolver.ScanDirs...)...),
		resolver.WithCategoryFolders(categoryFolders(cfg.Resolver.CategoryFolders)),
		resolver.WithRecentWindow(cfg.Resolver.RecentWindow),
		resolver.WithCacheSize(cfg.Resolver.CacheSize),
		resolver.WithTempDir(cfg.Paths.TempDir),
		resolver.WithFetcher(e.fetcher),
		resolver.WithUploads(reg),
		resolver.WithSigner(signature.New(signature.WithThreshold(cfg.Resolver.SignatureThreshold))),
		resolver.WithLogger(e.log.With().Str("component", "resolver").Logger()),
	}
	if e.metrics != nil {
		resOpts = append(resOpts, resolver.WithObserver(e.metrics))
	}
	res, err := resolver.New(resOpts...)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("create resolver: %w", err)
	}
	e.resolver = res

	return e, nil
}

func loadCorpus(path string) (*corpus.Corpus, error) {
	if path == "" {
		return corpus.Default()
	}
	return corpus.Load(path)
}

func (e *Engine) newDownloader(ctx context.Context, cfg *config.Config) (*download.Downloader, error) {
	opts := []download.Option{
		download.WithAttempts(cfg.Download.Attempts),
		download.WithBackoff(cfg.Download.Backoff),
		download.WithTimeout(cfg.Download.Timeout),
		download.WithDir(cfg.Paths.TempDir),
		download.WithLogger(e.log.With().Str("component", "download").Logger()),
	}
	if e.metrics != nil {
		opts = append(opts, download.WithObserver(e.metrics))
	}

	if cfg.S3.Enabled {
		client, err := download.NewS3Client(ctx, cfg.S3.ClientConfig())
		if err != nil {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		opts = append(opts, download.WithS3(client))
	}
	if cfg.GitHub.Token != "" {
		client, err := download.NewGitHubClient(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create github client: %w", err)
		}
		opts = append(opts, download.WithGitHub(client.Repositories))
	}

	return download.New(opts...), nil
}

func categoryFolders(in map[string][]string) map[patterns.Category][]string {
	if len(in) == 0 {
		return nil
	}
	out := resolver.DefaultCategoryFolders()
	for name, folders := range in {
		out[patterns.ParseCategory(name)] = append([]string(nil), folders...)
	}
	return out
}

// Answer matches req.Query, resolves the matched handler's input file and
// hands the result to the dispatcher, if any. A query that matches nothing
// is not an error: the returned Dispatch has no HandlerID.
func (e *Engine) Answer(ctx context.Context, req Request) (Dispatch, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveAnswer(time.Since(start)) }()

	query := strings.TrimSpace(req.Query)
	d := Dispatch{}

	if req.File != nil {
		u, err := e.store(ctx, req.File)
		if err != nil {
			return d, err
		}
		d.UploadID = u.ID
		query = withUpload(query, u)
	}

	d.Query = query
	d.TaskCategory = patterns.ClassifyTask(query)
	d.Parameters = patterns.ExtractParameters(query)

	res := e.Match(query)
	d.MatchScore = res.Score
	d.MatchStrategy = res.Strategy
	if !res.Matched() {
		e.log.Info().Str("query", truncate(query, 80)).Msg("no matching question")
		return d, nil
	}
	d.HandlerID = res.Record.Handler
	d.Question = res.Record.Question

	category := inputCategory(req.Category, res.Record, query)
	ref := e.resolver.Resolve(ctx, res.Record.Input, query, category)
	if ref.Path != "" || ref.IsRemote {
		d.File = &ref
	}
	if ref.Exists {
		d.ResolvedFilePath = ref.Path

		if ref.Category == patterns.CategoryArchive {
			dir, err := e.resolver.Extract(ctx, ref)
			if err != nil {
				return d, fmt.Errorf("extract %s: %w", ref.Path, err)
			}
			d.ExtractedDir = dir
		}
	}

	e.log.Info().
		Str("handler", d.HandlerID).
		Str("strategy", d.MatchStrategy.String()).
		Float64("score", d.MatchScore).
		Str("file", d.ResolvedFilePath).
		Msg("question answered")

	if e.dispatcher != nil {
		if err := e.dispatcher.Dispatch(ctx, d); err != nil {
			return d, fmt.Errorf("dispatch %s: %w", d.HandlerID, err)
		}
	}
	return d, nil
}

// store registers the request file: content is saved into the uploads dir,
// an existing path is registered where it is.
func (e *Engine) store(ctx context.Context, hint *FileHint) (uploads.Upload, error) {
	if hint.Data != nil {
		name := hint.Name
		if name == "" && hint.Path != "" {
			name = filepath.Base(hint.Path)
		}
		u, err := e.uploads.Save(ctx, name, hint.Data)
		if err != nil {
			return uploads.Upload{}, fmt.Errorf("save upload: %w", err)
		}
		return u, nil
	}

	if hint.Path == "" {
		return uploads.Upload{}, errors.New("file hint has neither content nor path")
	}
	name := hint.Name
	if name == "" {
		name = filepath.Base(hint.Path)
	}
	u, err := e.uploads.Register(ctx, name, hint.Path)
	if err != nil {
		return uploads.Upload{}, fmt.Errorf("register upload: %w", err)
	}
	return u, nil
}

// withUpload appends the sentence that points the resolver at an upload.
func withUpload(query string, u uploads.Upload) string {
	var sentence string
	switch {
	case strings.EqualFold(filepath.Ext(u.OriginalName), ".zip"):
		sentence = fmt.Sprintf("The ZIP file is located at %s", u.Path)
	case strings.EqualFold(u.OriginalName, "README.md"):
		sentence = fmt.Sprintf("The README.md file is located at %s", u.Path)
	default:
		sentence = fmt.Sprintf("The file %s is located at %s", u.OriginalName, u.Path)
	}
	if query == "" {
		return sentence
	}
	return query + " " + sentence
}

// inputCategory picks the expected category: the request's, else the
// record's input extension, else what the question or query talk about.
func inputCategory(requested patterns.Category, rec *corpus.Record, query string) patterns.Category {
	if requested != "" && requested != patterns.CategoryUnknown {
		return requested
	}
	if rec.Input != "" {
		if c := patterns.CategoryForPath(rec.Input); c != patterns.CategoryUnknown {
			return c
		}
	}
	if c := patterns.DetectCategory(rec.Question); c != patterns.CategoryUnknown {
		return c
	}
	return patterns.DetectCategory(query)
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Match runs the question matcher.
func (e *Engine) Match(query string) matcher.Result {
	res := e.matcher.Match(query)
	e.metrics.ObserveMatch(res.Strategy.String(), res.Score)
	return res
}

// Resolve runs the file resolver.
func (e *Engine) Resolve(ctx context.Context, defaultPath, query string, expected patterns.Category) resolver.FileReference {
	return e.resolver.Resolve(ctx, defaultPath, query, expected)
}

// GetFile runs the file resolver and fails when a required file is missing.
func (e *Engine) GetFile(ctx context.Context, identifier, query string, expected patterns.Category, required bool) (resolver.FileReference, error) {
	return e.resolver.GetFile(ctx, identifier, query, expected, required)
}

// WatchUploads registers files dropped into the uploads directory until ctx
// is done.
func (e *Engine) WatchUploads(ctx context.Context) error {
	return e.uploads.Watch(ctx)
}

// Corpus returns the loaded corpus.
func (e *Engine) Corpus() *corpus.Corpus {
	return e.corpus
}

// Uploads returns the upload registry.
func (e *Engine) Uploads() *uploads.Registry {
	return e.uploads
}

// Metrics returns the collectors, nil when metrics are disabled.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// MatcherStats returns the matcher usage counters.
func (e *Engine) MatcherStats() matcher.Stats {
	return e.matcher.Stats()
}

// CacheStats returns the resolution cache counters.
func (e *Engine) CacheStats() resolver.CacheStats {
	return e.resolver.CacheStats()
}

// Close removes the resolver's temp dirs and closes the registry.
func (e *Engine) Close() error {
	return errors.Join(e.resolver.Close(), e.uploads.Close())
}
