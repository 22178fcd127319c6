// Package uploads keeps the registry of user-supplied input files. Files are
// stored under an uploads directory with a timestamp prefix and addressed by
// a short ID that queries can mention. Registrations persist in SQLite.
package uploads

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/algsoch/data-science-tool/internal/patterns"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no upload has the requested ID.
var ErrNotFound = errors.New("upload not found")

const (
	// stampLayout prefixes stored file names: YYYYMMDD_HHMMSS_<name>.
	stampLayout = "20060102_150405"
	// timeLayout is fixed-width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Upload is one registered file.
type Upload struct {
	ID           string            `json:"id"`
	OriginalName string            `json:"original_name"`
	Path         string            `json:"path"`
	Category     patterns.Category `json:"category"`
	Size         int64             `json:"size"`
	UploadedAt   time.Time         `json:"uploaded_at"`
}

// Registry stores uploads on disk and their registrations in SQLite.
type Registry struct {
	db  *sql.DB
	dir string

	log        zerolog.Logger
	now        func() time.Time
	onRegister func(Upload)
}

// Option is a functional option for configuring Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// WithOnRegister sets a callback invoked after every new registration.
func WithOnRegister(fn func(Upload)) Option {
	return func(r *Registry) {
		r.onRegister = fn
	}
}

// Open opens (creating if needed) the registry database at dbPath and the
// uploads directory dir.
func Open(ctx context.Context, dbPath, dir string, opts ...Option) (*Registry, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Registry{
		db:  db,
		dir: dir,
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) migrate(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := r.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	for i, stmt := range statements(schema) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// statements splits a schema into statements, dropping comment lines.
func statements(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			lines = append(lines, line)
		}
	}

	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Dir returns the uploads directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Save writes the content of rd into the uploads directory as
// YYYYMMDD_HHMMSS_<name> and registers it.
func (r *Registry) Save(ctx context.Context, name string, rd io.Reader) (Upload, error) {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return Upload{}, fmt.Errorf("invalid upload name %q", name)
	}

	f, path, err := r.createUnique(name)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(f, rd); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Upload{}, fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Upload{}, fmt.Errorf("write upload: %w", err)
	}

	return r.Register(ctx, name, path)
}

// createUnique creates a new timestamped file, adding a counter to the name
// when a file with the same name was stored in the same second.
func (r *Registry) createUnique(name string) (*os.File, string, error) {
	stamp := r.now().Format(stampLayout)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 100; i++ {
		candidate := stamp + "_" + name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%s (%d)%s", stamp, stem, i, ext)
		}
		path := filepath.Join(r.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create upload: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create upload: too many files named %q", name)
}

// Register records an existing file under a new ID. A path that is already
// registered keeps its original registration.
func (r *Registry) Register(ctx context.Context, originalName, path string) (Upload, error) {
	return r.register(ctx, originalName, path, r.now())
}

func (r *Registry) register(ctx context.Context, originalName, path string, at time.Time) (Upload, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Upload{}, fmt.Errorf("resolve upload path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Upload{}, fmt.Errorf("stat upload: %w", err)
	}

	u := Upload{
		ID:           uuid.NewString()[:8],
		OriginalName: originalName,
		Path:         abs,
		Category:     patterns.CategoryForPath(originalName),
		Size:         info.Size(),
		UploadedAt:   at.UTC(),
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO uploads (id, original_name, path, category, size, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO NOTHING`,
		u.ID, u.OriginalName, u.Path, string(u.Category), u.Size, u.UploadedAt.Format(timeLayout),
	)
	if err != nil {
		return Upload{}, fmt.Errorf("insert upload: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return r.byPath(ctx, abs)
	}

	r.log.Info().Str("id", u.ID).Str("name", u.OriginalName).Str("path", u.Path).Msg("registered upload")
	if r.onRegister != nil {
		r.onRegister(u)
	}
	return u, nil
}

const selectColumns = `SELECT id, original_name, path, category, size, uploaded_at FROM uploads`

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner) (Upload, error) {
	var (
		u        Upload
		category string
		at       string
	)
	if err := s.Scan(&u.ID, &u.OriginalName, &u.Path, &category, &u.Size, &at); err != nil {
		return Upload{}, err
	}
	u.Category = patterns.ParseCategory(category)

	t, err := time.Parse(timeLayout, at)
	if err != nil {
		return Upload{}, fmt.Errorf("parse uploaded_at %q: %w", at, err)
	}
	u.UploadedAt = t
	return u, nil
}

// Get returns the upload with the given ID.
func (r *Registry) Get(ctx context.Context, id string) (Upload, error) {
	u, err := scanUpload(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, strings.ToLower(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Upload{}, fmt.Errorf("get upload %s: %w", id, err)
	}
	return u, nil
}

func (r *Registry) byPath(ctx context.Context, path string) (Upload, error) {
	u, err := scanUpload(r.db.QueryRowContext(ctx, selectColumns+` WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return Upload{}, fmt.Errorf("get upload %s: %w", path, err)
	}
	return u, nil
}

// List returns every upload, newest first.
func (r *Registry) List(ctx context.Context) ([]Upload, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY uploaded_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return out, nil
}

// Lookup returns the path registered under id.
func (r *Registry) Lookup(id string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := r.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Warn().Err(err).Str("id", id).Msg("upload lookup failed")
		}
		return "", false
	}
	return u.Path, true
}

// forget drops the registration of path.
func (r *Registry) forget(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

// LoadExisting registers files already in the uploads directory whose names
// carry the YYYYMMDD_HHMMSS_ prefix. It returns how many were new.
func (r *Registry) LoadExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("read uploads directory: %w", err)
	}

	added := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name, at, ok := ParseStoredName(e.Name())
		if !ok {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		if _, err := r.byPath(ctx, path); err == nil {
			continue
		}
		if _, err := r.register(ctx, name, path, at); err != nil {
			r.log.Warn().Err(err).Str("file", e.Name()).Msg("could not register existing upload")
			continue
		}
		added++
	}
	return added, nil
}

// ParseStoredName splits a stored file name YYYYMMDD_HHMMSS_<name> into the
// original name and the upload time (local time zone).
func ParseStoredName(stored string) (string, time.Time, bool) {
	parts := strings.SplitN(stored, "_", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", time.Time{}, false
	}
	at, err := time.ParseInLocation(stampLayout, parts[0]+"_"+parts[1], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return parts[2], at, true
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}
