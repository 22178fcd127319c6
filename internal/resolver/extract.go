package resolver

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks a ZIP archive into a tracked directory named
// <name>_extracted under the resolver's temp root and returns that
// directory. Extracting the same archive again returns the same directory.
func (r *Resolver) Extract(ctx context.Context, ref FileReference) (string, error) {
	if !ref.Exists {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, ref.Path)
	}

	src := r.abs(ref.Path)
	if ext := strings.ToLower(filepath.Ext(src)); ext != ".zip" {
		return "", fmt.Errorf("%w: %s", ErrArchiveUnsupported, filepath.Base(src))
	}

	r.mu.Lock()
	dir, ok := r.extracted[src]
	r.mu.Unlock()
	if ok && fileExists(dir) {
		return dir, nil
	}

	zr, err := zip.OpenReader(src)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrArchiveCorrupt, filepath.Base(src), err)
	}
	defer zr.Close()

	root, err := r.ensureTempRoot()
	if err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dir = filepath.Join(root, stem+"_extracted")
	if fileExists(dir) {
		if dir, err = os.MkdirTemp(root, stem+"_extracted_"); err != nil {
			return "", fmt.Errorf("create extraction dir: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}

	if err := extractAll(ctx, &zr.Reader, dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}

	r.track(dir)
	r.mu.Lock()
	r.extracted[src] = dir
	r.mu.Unlock()

	r.log.Debug().Str("archive", src).Str("dir", dir).Int("entries", len(zr.File)).Msg("extracted archive")
	return dir, nil
}

func extractAll(ctx context.Context, zr *zip.Reader, dir string) error {
	prefix := filepath.Clean(dir) + string(os.PathSeparator)

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extract cancelled: %w", err)
		}

		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, prefix) {
			return fmt.Errorf("%w: entry %q escapes the extraction directory", ErrArchiveCorrupt, f.Name)
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", f.Name, err)
			}
		case mode.IsRegular():
			if err := extractFile(f, target); err != nil {
				return err
			}
		default:
			// symlinks and devices are skipped
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrArchiveCorrupt, f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("%w: read %s: %w", ErrArchiveCorrupt, f.Name, err)
	}
	return out.Close()
}
