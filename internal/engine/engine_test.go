package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algsoch/data-science-tool/internal/config"
	"github.com/algsoch/data-science-tool/internal/corpus"
	"github.com/algsoch/data-science-tool/internal/matcher"
	"github.com/algsoch/data-science-tool/internal/patterns"
	"github.com/algsoch/data-science-tool/internal/resolver"
	"github.com/algsoch/data-science-tool/internal/uploads"
)

type fakeFetcher struct {
	mu    sync.Mutex
	root  string
	calls int
}

func (f *fakeFetcher) Download(_ context.Context, rawURL, desiredName string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	name := desiredName
	if name == "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", err
		}
		name = path.Base(u.Path)
	}
	dir, err := os.MkdirTemp(f.root, "download-")
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	return p, os.WriteFile(p, []byte(`[{"name":"X","marks":10}]`), 0o644)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []Dispatch
	fail error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, d Dispatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
	return r.fail
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, "base")
	require.NoError(t, os.MkdirAll(base, 0o755))

	cfg := config.Default()
	cfg.Paths.BaseDir = base
	cfg.Paths.WorkDir = base
	cfg.Paths.TempDir = filepath.Join(root, "tmp")
	cfg.Uploads.Dir = filepath.Join(root, "uploads")
	cfg.Uploads.DBPath = filepath.Join(root, "uploads.db")
	require.NoError(t, os.MkdirAll(cfg.Paths.TempDir, 0o755))
	return cfg, base
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *fakeFetcher) {
	t.Helper()
	ff := &fakeFetcher{root: cfg.Paths.TempDir}
	e, err := New(context.Background(), cfg, append([]Option{WithFetcher(ff)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, ff
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, p string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func TestNew_CorpusLoadErrorIsFatal(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Paths.CorpusPath = filepath.Join(t.TempDir(), "missing.json")

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, corpus.ErrCorpusLoad)
}

func TestNew_DefaultCorpus(t *testing.T) {
	cfg, _ := testConfig(t)
	e, _ := newTestEngine(t, cfg)

	assert.Positive(t, e.Corpus().Len())
	assert.NotNil(t, e.Metrics())
	assert.DirExists(t, e.Uploads().Dir())
}

func TestAnswer_ExtractCSVZipFromKnownFolder(t *testing.T) {
	cfg, base := testConfig(t)
	writeFile(t, filepath.Join(base, "GA1", "q-extract-csv-zip.zip"),
		zipBytes(t, map[string]string{"extract.csv": "answer\n42\n"}))
	e, _ := newTestEngine(t, cfg)

	d, err := e.Answer(context.Background(), Request{
		Query: "Download and unzip file q-extract-csv-zip.zip which has a single extract.csv file inside. What is the value in the answer column of the CSV file?",
	})
	require.NoError(t, err)

	assert.True(t, d.Matched())
	assert.Equal(t, "GA1/eighth.py", d.HandlerID)
	assert.Equal(t, matcher.StrategyOverride, d.MatchStrategy)
	require.NotNil(t, d.File)
	assert.Equal(t, resolver.SourceKnownFile, d.File.Source)
	assert.Equal(t, filepath.Join(base, "GA1", "q-extract-csv-zip.zip"), d.ResolvedFilePath)
	assert.NotEmpty(t, d.File.Signature)

	require.NotEmpty(t, d.ExtractedDir)
	data, err := os.ReadFile(filepath.Join(d.ExtractedDir, "extract.csv"))
	require.NoError(t, err)
	assert.Equal(t, "answer\n42\n", string(data))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().MatchCount.WithLabelValues("override")))
}

func TestAnswer_UploadedContent(t *testing.T) {
	cfg, _ := testConfig(t)
	e, _ := newTestEngine(t, cfg)

	d, err := e.Answer(context.Background(), Request{
		Query: "Extract the csv from this archive and report the answer column",
		File: &FileHint{
			Name: "q-extract-csv-zip.zip",
			Data: bytes.NewReader(zipBytes(t, map[string]string{"extract.csv": "answer\n7\n"})),
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, d.UploadID)
	assert.Contains(t, d.Query, "The ZIP file is located at ")
	assert.Equal(t, "GA1/eighth.py", d.HandlerID)

	require.NotNil(t, d.File)
	assert.Equal(t, resolver.SourceUpload, d.File.Source)

	u, err := e.Uploads().Get(context.Background(), d.UploadID)
	require.NoError(t, err)
	assert.Equal(t, u.Path, d.ResolvedFilePath)
	assert.FileExists(t, filepath.Join(d.ExtractedDir, "extract.csv"))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().UploadCount.WithLabelValues("archive")))
}

func TestAnswer_UploadedPath(t *testing.T) {
	cfg, _ := testConfig(t)
	e, _ := newTestEngine(t, cfg)

	p := filepath.Join(t.TempDir(), "q-multi-cursor-json.txt")
	writeFile(t, p, []byte("a=1\nb=2\n"))

	d, err := e.Answer(context.Background(), Request{
		Query: "Use multi-cursors to convert this into a single JSON object and hash it",
		File:  &FileHint{Path: p},
	})
	require.NoError(t, err)

	assert.Equal(t, "GA1/tenth.py", d.HandlerID)
	assert.Equal(t, matcher.StrategyOverride, d.MatchStrategy)
	assert.Contains(t, d.Query, "The file q-multi-cursor-json.txt is located at "+p)
	assert.Equal(t, p, d.ResolvedFilePath)
	assert.Empty(t, d.ExtractedDir)
}

func TestAnswer_NoMatch(t *testing.T) {
	cfg, _ := testConfig(t)
	disp := &recordingDispatcher{}
	e, _ := newTestEngine(t, cfg, WithDispatcher(disp))

	d, err := e.Answer(context.Background(), Request{Query: "what's the weather like on Mars"})
	require.NoError(t, err)

	assert.False(t, d.Matched())
	assert.Equal(t, matcher.StrategyNone, d.MatchStrategy)
	assert.Nil(t, d.File)
	assert.Empty(t, disp.got)
}

func TestAnswer_ImageSibling(t *testing.T) {
	cfg, base := testConfig(t)
	writeFile(t, filepath.Join(base, "GA2", "lenna.png"), []byte("png bytes"))
	e, _ := newTestEngine(t, cfg)

	d, err := e.Answer(context.Background(), Request{
		Query: "Download the image below and create a new Google Colab notebook. Run this code (after fixing a mistake in it) to calculate the number of pixels with a certain minimum brightness. What is the result? (It should be a number)",
	})
	require.NoError(t, err)

	assert.Equal(t, "GA2/fifth.py", d.HandlerID)
	require.NotNil(t, d.File)
	assert.Equal(t, resolver.SourceSiblingExtension, d.File.Source)
	assert.Equal(t, patterns.CategoryImage, d.File.Category)
	assert.Equal(t, filepath.Join(base, "GA2", "lenna.png"), d.ResolvedFilePath)
}

func TestAnswer_RemoteFileDownloadedOnce(t *testing.T) {
	cfg, _ := testConfig(t)
	c, err := corpus.Parse("test", []byte(`{"questions":[
		{"question":"Deploy the marks file to Vercel","file":"GA2/sixth.py","input":"GA2/q-vercel-python.json","keywords":["vercel","deploy"]}
	]}`))
	require.NoError(t, err)
	e, ff := newTestEngine(t, cfg, WithCorpus(c))

	req := Request{Query: "deploy to vercel using https://raw.githubusercontent.com/o/r/main/q-vercel-python.json"}

	first, err := e.Answer(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.File)
	assert.Equal(t, "GA2/sixth.py", first.HandlerID)
	assert.Equal(t, resolver.SourceURL, first.File.Source)
	assert.True(t, first.File.Exists)
	assert.False(t, first.File.IsRemote)
	assert.Equal(t, "q-vercel-python.json", filepath.Base(first.ResolvedFilePath))

	second, err := e.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ResolvedFilePath, second.ResolvedFilePath)
	assert.Equal(t, 1, ff.Calls())
	assert.Equal(t, int64(1), e.CacheStats().Hits)

	dir := filepath.Dir(first.ResolvedFilePath)
	require.NoError(t, e.Close())
	assert.NoDirExists(t, dir)
}

func TestAnswer_Dispatcher(t *testing.T) {
	cfg, _ := testConfig(t)
	disp := &recordingDispatcher{}
	e, _ := newTestEngine(t, cfg, WithDispatcher(disp))

	d, err := e.Answer(context.Background(), Request{
		Query: "Just above this paragraph, there's a hidden input with a secret value. What is the value in the hidden input?",
	})
	require.NoError(t, err)
	require.Len(t, disp.got, 1)
	assert.Equal(t, d, disp.got[0])
	assert.Equal(t, "GA1/eleventh.py", disp.got[0].HandlerID)

	disp.fail = errors.New("handler crashed")
	_, err = e.Answer(context.Background(), Request{Query: "hidden input secret value"})
	require.Error(t, err)
	assert.ErrorIs(t, err, disp.fail)
}

func TestAnswer_Concurrent(t *testing.T) {
	cfg, base := testConfig(t)
	writeFile(t, filepath.Join(base, "GA4", "q-extract-tables-from-pdf.pdf"), []byte("%PDF-1.4"))
	e, _ := newTestEngine(t, cfg)

	query := "Extract the table from q-extract-tables-from-pdf.pdf and total the Physics marks"
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := e.Answer(context.Background(), Request{Query: query})
			if err == nil && d.ResolvedFilePath == "" {
				err = errors.New("file not resolved")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(8), e.MatcherStats().TotalRequests)
}

func TestResolveAndGetFilePassThrough(t *testing.T) {
	cfg, base := testConfig(t)
	writeFile(t, filepath.Join(base, "GA5", "q-fastapi.csv"), []byte("a,b"))
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	ref := e.Resolve(ctx, "GA2/q-fastapi.csv", "", patterns.CategoryData)
	assert.True(t, ref.Exists)
	assert.Equal(t, resolver.SourceCategoryFolder, ref.Source)

	_, err := e.GetFile(ctx, "GA9/nothing.csv", "", patterns.CategoryData, true)
	assert.ErrorIs(t, err, resolver.ErrFileNotFound)
}

func TestWithUpload(t *testing.T) {
	tests := []struct {
		name  string
		query string
		u     uploads.Upload
		want  string
	}{
		{"zip", "unzip it", uploads.Upload{OriginalName: "data.ZIP", Path: "/u/1_data.ZIP"}, "unzip it The ZIP file is located at /u/1_data.ZIP"},
		{"readme", "format it", uploads.Upload{OriginalName: "README.md", Path: "/u/README.md"}, "format it The README.md file is located at /u/README.md"},
		{"other", "", uploads.Upload{OriginalName: "a.csv", Path: "/u/a.csv"}, "The file a.csv is located at /u/a.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withUpload(tt.query, tt.u))
		})
	}
}

func TestInputCategory(t *testing.T) {
	tests := []struct {
		name      string
		requested patterns.Category
		rec       corpus.Record
		query     string
		want      patterns.Category
	}{
		{"requested wins", patterns.CategoryImage, corpus.Record{Input: "GA1/a.zip"}, "", patterns.CategoryImage},
		{"input extension", "", corpus.Record{Input: "GA1/a.zip"}, "", patterns.CategoryArchive},
		{"question text", patterns.CategoryUnknown, corpus.Record{Question: "convert the pdf"}, "", patterns.CategoryDocument},
		{"query text", "", corpus.Record{Question: "sort by age"}, "use this spreadsheet", patterns.CategoryData},
		{"nothing", "", corpus.Record{Question: "count days"}, "how many", patterns.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			assert.Equal(t, tt.want, inputCategory(tt.requested, &rec, tt.query))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "weather", 10, "weather"},
		{"exact", "weather", 7, "weather"},
		{"ascii", "weather today", 7, "weather..."},
		{"multibyte", "héllo wörld", 7, "héllo w..."},
		{"cjk", "文件在哪里", 2, "文件..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
