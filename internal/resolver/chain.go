package resolver

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/algsoch/data-science-tool/internal/download"
	"github.com/algsoch/data-science-tool/internal/patterns"
)

// request holds one resolution's inputs.
type request struct {
	defaultPath string
	query       string
	expected    patterns.Category
}

// step is one query-driven link of the chain. It returns ok=false to pass.
type step struct {
	source Source
	run    func(ctx context.Context, req *request) (FileReference, bool)
}

var (
	uploadMarkerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\buploaded file (?:is )?(?:at|path:?)\s+(.+)`),
		regexp.MustCompile(`(?i)\bfile\b[^\n]*?\bis located at\s+(.+)`),
		regexp.MustCompile(`(?i)\bupload path:\s*(.+)`),
	}
	uploadIDRe = regexp.MustCompile(`\b([0-9a-f]{8})\b`)

	urlRe = regexp.MustCompile(`(?i)\b(?:https?|s3)://[^\s"'<>()\[\]{}]+`)

	quotedPathRe  = regexp.MustCompile("\"([^\"\\n]+)\"|'([^'\\n]+)'|`([^`\\n]+)`")
	windowsPathRe = regexp.MustCompile(`\b[A-Za-z]:[\\/][^\s"'<>|?*]+`)
	posixPathRe   = regexp.MustCompile(`(?:^|[\s(=])(~?/[^\s"'<>|]+)`)

	namedFileRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bfile:\s*([\w.\-]+\.\w{1,6})\b`),
		regexp.MustCompile(`(?i)\bnamed\s+([\w.\-]+\.\w{1,6})\b`),
		regexp.MustCompile(`(?i)\b([\w\-]+(?:\.[\w\-]+)*\.\w{1,6})\b`),
	}
)

const trailingPunct = ".,;:!?)]}>\"'`"

// resolve runs the chain without the cache.
func (r *Resolver) resolve(ctx context.Context, defaultPath, query string, expected patterns.Category) FileReference {
	req := &request{defaultPath: defaultPath, query: query, expected: expected}

	if strings.TrimSpace(query) != "" {
		for _, s := range r.steps {
			if ctx.Err() != nil {
				break
			}
			if ref, ok := s.run(ctx, req); ok {
				return ref
			}
		}
	}

	if defaultPath == "" {
		return FileReference{Category: categoryOrUnknown(expected), Source: SourceDefault}
	}

	if p, ok := r.existingDefault(defaultPath); ok {
		return r.reference(p, SourceDefault, expected)
	}

	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(defaultPath, `\`, "/")))
	category := patterns.CategoryForPath(base)
	if category == patterns.CategoryUnknown {
		category = categoryOrUnknown(expected)
	}

	for _, folder := range r.folders[category] {
		if p := filepath.Join(r.baseDir, folder, base); isRegularFile(p) {
			return r.reference(p, SourceCategoryFolder, expected)
		}
	}

	if category == patterns.CategoryImage {
		if p, ok := r.imageSibling(defaultPath, base); ok {
			return r.reference(p, SourceSiblingExtension, expected)
		}
	}

	return FileReference{
		Path:      defaultPath,
		Category:  category,
		Extension: strings.ToLower(filepath.Ext(base)),
		Source:    SourceDefault,
	}
}

func categoryOrUnknown(c patterns.Category) patterns.Category {
	if c == "" || !c.IsValid() {
		return patterns.CategoryUnknown
	}
	return c
}

// existingDefault checks defaultPath against the working directory and the
// base directory.
func (r *Resolver) existingDefault(defaultPath string) (string, bool) {
	p := filepath.FromSlash(defaultPath)
	if isRegularFile(r.abs(p)) {
		return p, true
	}
	if !filepath.IsAbs(p) {
		if q := filepath.Join(r.baseDir, p); isRegularFile(q) {
			return q, true
		}
	}
	return "", false
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// imageSibling probes the other image extensions of base in the default
// directory, then in the image folders.
func (r *Resolver) imageSibling(defaultPath, base string) (string, bool) {
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	dirs := []string{r.abs(filepath.Dir(filepath.FromSlash(defaultPath)))}
	if !filepath.IsAbs(defaultPath) {
		dirs = append(dirs, filepath.Join(r.baseDir, filepath.Dir(filepath.FromSlash(defaultPath))))
	}
	for _, folder := range r.folders[patterns.CategoryImage] {
		dirs = append(dirs, filepath.Join(r.baseDir, folder))
	}

	for _, dir := range dirs {
		for _, ext := range imageExtensions {
			if p := filepath.Join(dir, stem+ext); isRegularFile(p) {
				return p, true
			}
		}
	}
	return "", false
}

// fromUploadMarkers accepts explicit upload phrasing and registry IDs.
func (r *Resolver) fromUploadMarkers(_ context.Context, req *request) (FileReference, bool) {
	for _, re := range uploadMarkerRes {
		for _, m := range re.FindAllStringSubmatch(req.query, -1) {
			if p, ok := r.existingPrefix(m[1]); ok {
				return r.reference(p, SourceUpload, req.expected), true
			}
		}
	}

	if r.uploads == nil {
		return FileReference{}, false
	}
	for _, m := range uploadIDRe.FindAllStringSubmatch(strings.ToLower(req.query), -1) {
		if p, ok := r.uploads.Lookup(m[1]); ok && isRegularFile(p) {
			return r.reference(p, SourceUpload, req.expected), true
		}
	}
	return FileReference{}, false
}

// existingPrefix returns the longest leading run of words in s that names an
// existing regular file. Paths may contain spaces; trailing prose is dropped.
func (r *Resolver) existingPrefix(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 1 && strings.ContainsRune(`"'`+"`", rune(s[0])) {
		if end := strings.IndexByte(s[1:], s[0]); end >= 0 {
			p := s[1 : end+1]
			return p, isRegularFile(r.abs(p))
		}
	}

	fields := strings.Fields(s)
	for i := len(fields); i > 0; i-- {
		p := strings.TrimRight(strings.Join(fields[:i], " "), trailingPunct)
		if p != "" && isRegularFile(r.abs(p)) {
			return p, true
		}
	}
	return "", false
}

// fromURL stages the first file-like remote address in the query. A failed
// download ends the chain with an unstaged remote reference.
func (r *Resolver) fromURL(ctx context.Context, req *request) (FileReference, bool) {
	for _, raw := range urlRe.FindAllString(req.query, -1) {
		raw = strings.TrimRight(raw, trailingPunct)

		target, err := download.Normalize(raw)
		if err != nil {
			continue
		}

		name := target.BaseName()
		ext := strings.ToLower(path.Ext(name))
		if patterns.CategoryForExtension(ext) == patterns.CategoryUnknown {
			if target.Vendor == download.VendorGeneric {
				continue
			}
			ext = target.Ext
			if ctxExt := patterns.ContextExtension(req.query); ctxExt != "" {
				ext = ctxExt
			}
		}

		category := patterns.CategoryForExtension(ext)
		if category == patterns.CategoryUnknown {
			category = categoryOrUnknown(req.expected)
		}

		local, err := r.stage(ctx, target, r.desiredName(name, ext))
		if err != nil {
			r.log.Warn().Err(err).Str("url", raw).Msg("remote file not staged")
			return FileReference{
				Path:      raw,
				Category:  category,
				Extension: ext,
				IsRemote:  true,
				Source:    SourceURL,
				URL:       raw,
				Err:       err,
			}, true
		}

		ref := r.reference(local, SourceURL, category)
		ref.URL = raw
		return ref, true
	}
	return FileReference{}, false
}

// desiredName gives a download the extension implied by context when the
// remote name carries no usable one.
func (r *Resolver) desiredName(name, ext string) string {
	if ext == "" || strings.EqualFold(path.Ext(name), ext) {
		return ""
	}
	stem := strings.TrimSuffix(name, path.Ext(name))
	if len(stem) < 3 {
		stem = "download_" + r.now().Format("20060102_150405")
	}
	return stem + ext
}

// stage downloads target once per resolver; later calls reuse the staged
// file while it exists. Concurrent calls for one URL share a download.
func (r *Resolver) stage(ctx context.Context, target download.Target, desired string) (string, error) {
	v, err, _ := r.flight.Do(target.URL, func() (any, error) {
		r.mu.Lock()
		local, ok := r.downloads[target.URL]
		r.mu.Unlock()
		if ok && isRegularFile(local) {
			return local, nil
		}

		local, err := r.fetcher.Download(ctx, target.Raw, desired)
		if err != nil {
			return "", err
		}
		r.track(filepath.Dir(local))

		r.mu.Lock()
		r.downloads[target.URL] = local
		r.mu.Unlock()
		return local, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type recentFile struct {
	path  string
	mtime int64
}

// fromRecentUploads picks the newest file of the query's category, or of the
// expected category when the query names none, modified within the recent
// window in the scan directories.
func (r *Resolver) fromRecentUploads(_ context.Context, req *request) (FileReference, bool) {
	if len(r.scanDirs) == 0 {
		return FileReference{}, false
	}

	category := patterns.DetectCategory(req.query)
	if category == patterns.CategoryUnknown {
		category = categoryOrUnknown(req.expected)
	}
	if category == patterns.CategoryUnknown {
		return FileReference{}, false
	}

	exts := make(map[string]bool)
	for _, e := range patterns.Extensions(category) {
		exts[e] = true
	}
	cutoff := r.now().Add(-r.recentWindow).UnixNano()

	var found []recentFile
	for _, dir := range r.scanDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !exts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().UnixNano() < cutoff {
				continue
			}
			found = append(found, recentFile{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
		}
	}
	if len(found) == 0 {
		return FileReference{}, false
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].mtime != found[j].mtime {
			return found[i].mtime > found[j].mtime
		}
		return found[i].path < found[j].path
	})
	return r.reference(found[0].path, SourceRecentUpload, req.expected), true
}

// fromPathLiterals accepts quoted, Windows and POSIX paths that exist.
func (r *Resolver) fromPathLiterals(_ context.Context, req *request) (FileReference, bool) {
	var candidates []string
	for _, m := range quotedPathRe.FindAllStringSubmatch(req.query, -1) {
		for _, g := range m[1:] {
			if g != "" {
				candidates = append(candidates, g)
			}
		}
	}
	candidates = append(candidates, windowsPathRe.FindAllString(req.query, -1)...)
	for _, m := range posixPathRe.FindAllStringSubmatch(req.query, -1) {
		candidates = append(candidates, m[1])
	}

	for _, c := range candidates {
		c = strings.TrimRight(strings.TrimSpace(c), trailingPunct)
		if c != "" && isRegularFile(r.abs(c)) {
			return r.reference(c, SourceQueryPath, req.expected), true
		}
	}
	return FileReference{}, false
}

// fromKnownFiles probes a known file's own folder first, then every other
// known folder.
func (r *Resolver) fromKnownFiles(_ context.Context, req *request) (FileReference, bool) {
	kf, ok := patterns.LookupKnownFile(req.query)
	if !ok {
		return FileReference{}, false
	}

	folders := []string{kf.Folder}
	for _, f := range patterns.KnownFolders() {
		if f != kf.Folder {
			folders = append(folders, f)
		}
	}
	for _, folder := range folders {
		if p := filepath.Join(r.baseDir, folder, kf.Filename); isRegularFile(p) {
			return r.reference(p, SourceKnownFile, req.expected), true
		}
	}
	return FileReference{}, false
}

// errFound stops a glob walk at the first hit.
var errFound = errors.New("found")

// fromFilenameSearch looks for file names mentioned in the query in the
// working directory, its data folder, the base directory and the category
// folders, then anywhere below the base directory.
func (r *Resolver) fromFilenameSearch(ctx context.Context, req *request) (FileReference, bool) {
	names := mentionedFileNames(req.query)
	if len(names) == 0 {
		return FileReference{}, false
	}

	dirs := []string{r.workDir, filepath.Join(r.workDir, "data"), r.baseDir}
	for _, folder := range patterns.KnownFolders() {
		dirs = append(dirs, filepath.Join(r.baseDir, folder))
	}

	for _, name := range names {
		for _, dir := range dirs {
			if p := filepath.Join(dir, name); isRegularFile(p) {
				return r.reference(p, SourceFilenameSearch, req.expected), true
			}
		}
	}

	fsys := os.DirFS(r.baseDir)
	for _, name := range names {
		var hit string
		err := doublestar.GlobWalk(fsys, "**/"+name, func(p string, d fs.DirEntry) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.Type().IsRegular() {
				hit = p
				return errFound
			}
			return nil
		})
		if errors.Is(err, errFound) {
			return r.reference(filepath.Join(r.baseDir, filepath.FromSlash(hit)), SourceFilenameSearch, req.expected), true
		}
		if err != nil {
			r.log.Debug().Err(err).Str("name", name).Msg("filename search failed")
		}
	}
	return FileReference{}, false
}

// mentionedFileNames extracts distinct file names with a known extension,
// explicit forms first.
func mentionedFileNames(query string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, re := range namedFileRes {
		for _, m := range re.FindAllStringSubmatch(query, -1) {
			name := strings.TrimRight(m[1], ".")
			if seen[name] || patterns.CategoryForPath(name) == patterns.CategoryUnknown {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
