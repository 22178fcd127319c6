// Package download stages remote input files on local disk. Vendor share
// links are rewritten to direct-download form, transient failures are retried
// with a fixed backoff, and S3 or GitHub sources can be fetched through their
// SDK clients when credentials are configured.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrDownloadFailed is returned when a file could not be downloaded after all
// attempts.
var ErrDownloadFailed = errors.New("download failed")

const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
	DefaultTimeout  = 60 * time.Second
)

// Observer receives one event per Download call.
type Observer interface {
	ObserveDownload(vendor string, ok bool, attempts int, elapsed time.Duration)
}

// StatusError is an unexpected HTTP response status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Downloader fetches remote files into per-download directories under a temp
// root. It is safe for concurrent use.
type Downloader struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	dir      string
	s3       ObjectGetter
	github   ContentsDownloader
	observer Observer
	log      zerolog.Logger
	now      func() time.Time
}

// Option is a functional option for configuring Downloader.
type Option func(*Downloader)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		if c != nil {
			d.client = c
		}
	}
}

// WithAttempts sets the maximum number of attempts per download.
func WithAttempts(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.attempts = n
		}
	}
}

// WithBackoff sets the fixed delay between attempts.
func WithBackoff(b time.Duration) Option {
	return func(d *Downloader) {
		if b >= 0 {
			d.backoff = b
		}
	}
}

// WithTimeout bounds each individual attempt.
func WithTimeout(t time.Duration) Option {
	return func(d *Downloader) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithDir sets the temp root under which download directories are created.
// Empty means os.TempDir.
func WithDir(dir string) Option {
	return func(d *Downloader) {
		d.dir = dir
	}
}

// WithS3 routes S3 targets through an SDK client instead of public HTTPS.
func WithS3(s3 ObjectGetter) Option {
	return func(d *Downloader) {
		d.s3 = s3
	}
}

// WithGitHub routes GitHub targets through the contents API.
func WithGitHub(gh ContentsDownloader) Option {
	return func(d *Downloader) {
		d.github = gh
	}
}

// WithObserver reports download outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(d *Downloader) {
		d.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Downloader) {
		d.log = log
	}
}

// New creates a Downloader.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client:   &http.Client{},
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		timeout:  DefaultTimeout,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches rawURL and returns the local path of the staged file. The
// file lives in a fresh directory that the caller owns and must remove.
func (d *Downloader) Download(ctx context.Context, rawURL, desiredName string) (string, error) {
	target, err := Normalize(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	dir, err := os.MkdirTemp(d.dir, "download-")
	if err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	dest := filepath.Join(dir, target.fileName(desiredName, d.now().Format("20060102_150405")))

	start := time.Now()
	attempts, err := d.fetchWithRetry(ctx, target, dest)
	if d.observer != nil {
		d.observer.ObserveDownload(string(target.Vendor), err == nil, attempts, time.Since(start))
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		d.log.Warn().Err(err).Str("url", rawURL).Int("attempts", attempts).Msg("download failed")
		return "", fmt.Errorf("%w: %s: %w", ErrDownloadFailed, rawURL, err)
	}

	d.log.Debug().
		Str("url", target.URL).
		Str("vendor", string(target.Vendor)).
		Str("path", dest).
		Int("attempts", attempts).
		Dur("elapsed", time.Since(start)).
		Msg("downloaded file")
	return dest, nil
}

// fetchWithRetry returns the number of attempts made and the last error.
func (d *Downloader) fetchWithRetry(ctx context.Context, t Target, dest string) (int, error) {
	var lastErr error
	attempt := 0
	for ; attempt < d.attempts; attempt++ {
		if attempt > 0 {
			d.log.Info().Err(lastErr).Int("attempt", attempt+1).Int("max", d.attempts).Msg("retrying download")
			select {
			case <-ctx.Done():
				return attempt, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			case <-time.After(d.backoff):
			}
		}

		err := d.fetchOnce(ctx, t, dest)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryableError(err) {
			d.log.Debug().Err(err).Msg("non-retryable download error")
			return attempt + 1, lastErr
		}
	}
	return attempt, lastErr
}

func (d *Downloader) fetchOnce(ctx context.Context, t Target, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	switch {
	case t.Vendor == VendorS3 && d.s3 != nil:
		err = fetchS3(ctx, d.s3, t.Bucket, t.Key, f)
	case t.Vendor == VendorGitHub && d.github != nil:
		err = fetchGitHub(ctx, d.github, t, f)
	default:
		err = d.fetchHTTP(ctx, t.URL, f)
	}

	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", dest, cerr)
	}
	return err
}

func (d *Downloader) fetchHTTP(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF")
}
