package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func newTestDownloader(t *testing.T, srv *httptest.Server, opts ...Option) (*Downloader, string) {
	t.Helper()
	root := t.TempDir()
	base := []Option{
		WithHTTPClient(srv.Client()),
		WithDir(root),
		WithBackoff(time.Millisecond),
	}
	return New(append(base, opts...)...), root
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) ObserveDownload(vendor string, ok bool, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("%s ok=%t attempts=%d", vendor, ok, attempts))
}

func TestNew_Defaults(t *testing.T) {
	d := New()
	assert.Equal(t, DefaultAttempts, d.attempts)
	assert.Equal(t, DefaultBackoff, d.backoff)
	assert.Equal(t, DefaultTimeout, d.timeout)

	d = New(WithAttempts(0), WithTimeout(-1), WithBackoff(-1))
	assert.Equal(t, DefaultAttempts, d.attempts)
	assert.Equal(t, DefaultTimeout, d.timeout)
	assert.Equal(t, DefaultBackoff, d.backoff)
}

func TestDownload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/data.csv", r.URL.Path)
		_, _ = io.WriteString(w, "a,b\n1,2\n")
	}))
	defer srv.Close()

	d, root := newTestDownloader(t, srv)
	path, err := d.Download(context.Background(), srv.URL+"/files/data.csv?token=x", "")
	require.NoError(t, err)

	assert.Equal(t, "data.csv", filepath.Base(path))
	assert.Equal(t, root, filepath.Dir(filepath.Dir(path)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestDownload_DesiredName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "x")
	}))
	defer srv.Close()

	d, _ := newTestDownloader(t, srv)
	path, err := d.Download(context.Background(), srv.URL+"/uc", "sheet.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "sheet.xlsx", filepath.Base(path))
}

func TestDownload_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	d, _ := newTestDownloader(t, srv, WithObserver(obs))

	path, err := d.Download(context.Background(), srv.URL+"/data.json", "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.FileExists(t, path)
	assert.Equal(t, []string{"generic ok=true attempts=3"}, obs.events)
}

func TestDownload_StatusHandling(t *testing.T) {
	tests := []struct {
		status   int
		wantHits int32
	}{
		{http.StatusInternalServerError, 3},
		{http.StatusBadGateway, 3},
		{http.StatusTooManyRequests, 3},
		{http.StatusNotFound, 1},
		{http.StatusForbidden, 1},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			obs := &recordingObserver{}
			d, root := newTestDownloader(t, srv, WithObserver(obs))

			_, err := d.Download(context.Background(), srv.URL+"/data.csv", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDownloadFailed)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Code)
			assert.Equal(t, tt.wantHits, hits.Load())
			assert.Equal(t, []string{fmt.Sprintf("generic ok=false attempts=%d", tt.wantHits)}, obs.events)

			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			assert.Empty(t, entries, "failed download dir should be removed")
		})
	}
}

func TestDownload_PerAttemptTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = io.WriteString(w, "late but fine")
	}))
	defer srv.Close()

	d, _ := newTestDownloader(t, srv, WithTimeout(100*time.Millisecond))

	path, err := d.Download(context.Background(), srv.URL+"/slow.txt", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "late but fine", string(data))
}

func TestDownload_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, _ := newTestDownloader(t, srv, WithBackoff(time.Hour))

	start := time.Now()
	_, err := d.Download(ctx, srv.URL+"/data.csv", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, int32(1), hits.Load())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDownload_InvalidURL(t *testing.T) {
	d := New(WithDir(t.TempDir()))
	_, err := d.Download(context.Background(), "ftp://example.com/file.csv", "")
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

// rewriteTransport sends every request to target while recording the
// original URL.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper

	mu   sync.Mutex
	seen []string
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.seen = append(rt.seen, req.URL.String())
	rt.mu.Unlock()

	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return rt.base.RoundTrip(out)
}

func TestDownload_VendorLinksAreRewritten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	defer srv.Close()

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	tests := []struct {
		raw  string
		seen string
		name string
	}{
		{
			raw:  "https://www.dropbox.com/s/abc/data.csv?dl=0",
			seen: "https://dl.dropboxusercontent.com/s/abc/data.csv",
			name: "data.csv",
		},
		{
			raw:  "https://github.com/owner/repo/blob/main/q-data.json",
			seen: "https://raw.githubusercontent.com/owner/repo/main/q-data.json",
			name: "q-data.json",
		},
		{
			raw:  "s3://bucket/dir/lenna.webp",
			seen: "https://bucket.s3.amazonaws.com/dir/lenna.webp",
			name: "lenna.webp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &rewriteTransport{target: target, base: srv.Client().Transport}
			d := New(
				WithHTTPClient(&http.Client{Transport: rt}),
				WithDir(t.TempDir()),
			)

			path, err := d.Download(context.Background(), tt.raw, "")
			require.NoError(t, err)
			assert.Equal(t, tt.name, filepath.Base(path))
			assert.Equal(t, []string{tt.seen}, rt.seen)
		})
	}
}

type fakeObjectGetter struct {
	body string
	err  error
	got  []string
}

func (f *fakeObjectGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.got = append(f.got, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestDownload_S3Fetcher(t *testing.T) {
	getter := &fakeObjectGetter{body: "from s3"}
	d := New(WithS3(getter), WithDir(t.TempDir()), WithBackoff(time.Millisecond))

	path, err := d.Download(context.Background(), "https://my-bucket.s3.eu-west-1.amazonaws.com/dir/file.csv", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"my-bucket/dir/file.csv"}, getter.got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from s3", string(data))
}

func TestDownload_S3FetcherError(t *testing.T) {
	getter := &fakeObjectGetter{err: errors.New("NoSuchKey: the specified key does not exist")}
	d := New(WithS3(getter), WithDir(t.TempDir()), WithBackoff(time.Millisecond))

	_, err := d.Download(context.Background(), "s3://bucket/missing.csv", "")
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Len(t, getter.got, 1)
}

func TestNewS3Client_CustomEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bucket/dir/file.csv" {
			http.NotFound(w, r)
			return
		}
		assert.Contains(t, r.Header.Get("Authorization"), "AKIDEXAMPLE")
		_, _ = io.WriteString(w, "s3 endpoint body")
	}))
	defer srv.Close()

	ctx := context.Background()
	client, err := NewS3Client(ctx, S3Config{
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	d := New(WithS3(client), WithDir(t.TempDir()))
	path, err := d.Download(ctx, "s3://bucket/dir/file.csv", "")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3 endpoint body", string(data))
}

func TestNewGitHubClient_DownloadContents(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/repos/owner/repo/contents/data"):
			assert.Equal(t, "main", r.URL.Query().Get("ref"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]map[string]string{{
				"type":         "file",
				"name":         "file.csv",
				"path":         "data/file.csv",
				"download_url": srv.URL + "/raw/file.csv",
			}})
		case r.URL.Path == "/raw/file.csv":
			_, _ = io.WriteString(w, "x,y\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	gh, err := NewGitHubClient(ctx, "tok", srv.URL)
	require.NoError(t, err)

	d := New(WithGitHub(gh.Repositories), WithDir(t.TempDir()))
	path, err := d.Download(ctx, "https://github.com/owner/repo/blob/main/data/file.csv", "")
	require.NoError(t, err)
	assert.Equal(t, "file.csv", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(data))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&StatusError{Code: 503}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 404}, false},
		{fmt.Errorf("wrapped: %w", &StatusError{Code: 500}), true},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("permission denied"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}
