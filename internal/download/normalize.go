package download

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Vendor identifies a hosting service whose share links need rewriting
// before they can be fetched directly.
type Vendor string

const (
	VendorGeneric     Vendor = "generic"
	VendorGoogleDrive Vendor = "google_drive"
	VendorGoogleDocs  Vendor = "google_docs"
	VendorDropbox     Vendor = "dropbox"
	VendorGitHub      Vendor = "github"
	VendorSharePoint  Vendor = "sharepoint"
	VendorS3          Vendor = "s3"
)

// Target is a normalized remote reference.
type Target struct {
	// Raw is the address as it appeared in the query.
	Raw string `json:"raw"`
	// URL is the direct-download HTTPS address.
	URL string `json:"url"`
	// Vendor is the detected hosting service.
	Vendor Vendor `json:"vendor"`
	// Ext is an extension implied by the vendor export format, if any.
	Ext string `json:"ext,omitempty"`

	// S3 location, set for VendorS3.
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`

	// GitHub location, set for VendorGitHub.
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Path  string `json:"path,omitempty"`
}

var (
	driveFileRe  = regexp.MustCompile(`^/file/d/([^/]+)`)
	docsRe       = regexp.MustCompile(`^/(spreadsheets|document|presentation)/d/([^/]+)`)
	s3VirtualRe  = regexp.MustCompile(`^([a-z0-9][a-z0-9.-]*)\.s3(?:[.-][a-z0-9-]+)?\.amazonaws\.com$`)
	s3PathHostRe = regexp.MustCompile(`^s3(?:[.-][a-z0-9-]+)?\.amazonaws\.com$`)
)

var docsExport = map[string]struct{ format, ext string }{
	"spreadsheets": {"xlsx", ".xlsx"},
	"document":     {"docx", ".docx"},
	"presentation": {"pptx", ".pptx"},
}

// Normalize rewrites vendor share links into direct-download form.
func Normalize(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse url %q: %w", raw, err)
	}

	t := Target{Raw: raw, URL: raw, Vendor: VendorGeneric}

	if u.Scheme == "s3" {
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return Target{}, fmt.Errorf("s3 url %q needs a bucket and a key", raw)
		}
		return s3Target(t, u.Host, strings.TrimPrefix(u.Path, "/")), nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "drive.google.com":
		id := u.Query().Get("id")
		if m := driveFileRe.FindStringSubmatch(u.Path); m != nil {
			id = m[1]
		}
		if id != "" {
			t.Vendor = VendorGoogleDrive
			t.URL = "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id)
		}

	case host == "docs.google.com":
		if m := docsRe.FindStringSubmatch(u.Path); m != nil {
			exp := docsExport[m[1]]
			t.Vendor = VendorGoogleDocs
			t.Ext = exp.ext
			t.URL = fmt.Sprintf("https://docs.google.com/%s/d/%s/export?format=%s", m[1], m[2], exp.format)
		}

	case host == "www.dropbox.com" || host == "dropbox.com":
		q := u.Query()
		q.Del("dl")
		t.Vendor = VendorDropbox
		t.URL = (&url.URL{
			Scheme:   "https",
			Host:     "dl.dropboxusercontent.com",
			Path:     u.Path,
			RawQuery: q.Encode(),
		}).String()

	case host == "github.com":
		// /owner/repo/blob/ref/path or /owner/repo/raw/ref/path
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 5)
		if len(parts) == 5 && (parts[2] == "blob" || parts[2] == "raw") {
			t = githubTarget(t, parts[0], parts[1], parts[3], parts[4])
		}

	case host == "raw.githubusercontent.com":
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 4)
		if len(parts) == 4 {
			t = githubTarget(t, parts[0], parts[1], parts[2], parts[3])
		}

	case strings.HasSuffix(host, ".sharepoint.com") || host == "1drv.ms" || host == "onedrive.live.com":
		q := u.Query()
		q.Set("download", "1")
		u.RawQuery = q.Encode()
		t.Vendor = VendorSharePoint
		t.URL = u.String()

	case s3VirtualRe.MatchString(host):
		bucket := s3VirtualRe.FindStringSubmatch(host)[1]
		if key := strings.TrimPrefix(u.Path, "/"); key != "" {
			t = s3Target(t, bucket, key)
		}

	case s3PathHostRe.MatchString(host):
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		if len(parts) == 2 && parts[1] != "" {
			t = s3Target(t, parts[0], parts[1])
		}
	}

	return t, nil
}

func s3Target(t Target, bucket, key string) Target {
	t.Vendor = VendorS3
	t.Bucket = bucket
	t.Key = key
	t.URL = fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
	return t
}

func githubTarget(t Target, owner, repo, ref, p string) Target {
	t.Vendor = VendorGitHub
	t.Owner, t.Repo, t.Ref, t.Path = owner, repo, ref, p
	t.URL = fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", owner, repo, ref, p)
	return t
}

// remotePath is the path component that carries the file name.
func (t Target) remotePath() string {
	switch t.Vendor {
	case VendorS3:
		return t.Key
	case VendorGitHub:
		return t.Path
	case VendorGoogleDrive, VendorGoogleDocs:
		return ""
	}
	u, err := url.Parse(t.Raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// BaseName returns the file name carried by the remote path, or "" when the
// address has none.
func (t Target) BaseName() string {
	p := t.remotePath()
	if p == "" {
		return ""
	}
	name := path.Base(p)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if !validName(name) {
		return ""
	}
	return name
}

// fileName picks the local file name: the desired name when given, else the
// URL's last path segment, else a timestamped name when the segment is
// missing or its stem is shorter than three characters.
func (t Target) fileName(desired, stamp string) string {
	if desired = path.Base(strings.ReplaceAll(strings.TrimSpace(desired), `\`, "/")); validName(desired) {
		return desired
	}

	var ext string
	if name := t.BaseName(); name != "" {
		ext = path.Ext(name)
		if len(strings.TrimSuffix(name, ext)) >= 3 {
			return name
		}
	}
	if ext == "" {
		ext = t.Ext
	}
	return "download_" + stamp + ext
}

func validName(name string) bool {
	return name != "" && name != "." && name != "/" && name != ".." && !strings.ContainsAny(name, `/\`)
}
