package download

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"
)

// ContentsDownloader is the subset of the GitHub repositories API used for
// downloads.
type ContentsDownloader interface {
	DownloadContents(ctx context.Context, owner, repo, filepath string, opts *github.RepositoryContentGetOptions) (io.ReadCloser, *github.Response, error)
}

// NewGitHubClient builds a token-authenticated GitHub client. A non-empty
// baseURL targets a GitHub Enterprise (or test) server.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(hc)
	if baseURL == "" {
		return client, nil
	}

	client, err := client.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("github base url: %w", err)
	}
	return client, nil
}

func fetchGitHub(ctx context.Context, gh ContentsDownloader, t Target, w io.Writer) error {
	var opts *github.RepositoryContentGetOptions
	if t.Ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: t.Ref}
	}

	rc, resp, err := gh.DownloadContents(ctx, t.Owner, t.Repo, t.Path, opts)
	if err != nil {
		if resp != nil && resp.Response != nil && resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("github %s/%s/%s: %w", t.Owner, t.Repo, t.Path, &StatusError{URL: t.URL, Code: resp.StatusCode})
		}
		return fmt.Errorf("github %s/%s/%s: %w", t.Owner, t.Repo, t.Path, err)
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("read github %s/%s/%s: %w", t.Owner, t.Repo, t.Path, err)
	}
	return nil
}
