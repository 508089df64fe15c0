package fetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxSourceBytes caps the uncompressed size of a fetched source tree.
const maxSourceBytes = 512 << 20 // 512 MiB

// GitHubFetcher downloads commit archives as gzipped tarballs, the same way
// the hosted archive endpoint serves them:
// https://github.com/{owner}/{repo}/archive/{commit}.tar.gz
type GitHubFetcher struct {
	BaseURL string // override for tests; default https://github.com
	Client  *http.Client
}

// NewGitHubFetcher creates a fetcher against github.com.
func NewGitHubFetcher() *GitHubFetcher {
	return &GitHubFetcher{
		BaseURL: "https://github.com",
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// Fetch downloads the archive for commit and extracts it into destDir.
// Archives wrap the tree in a single {repo}-{commit} directory; that prefix
// is stripped so destDir is the tree root.
func (f *GitHubFetcher) Fetch(ctx context.Context, owner, repo, commit, destDir string) error {
	url := fmt.Sprintf("%s/%s/%s/archive/%s.tar.gz", f.BaseURL, owner, repo, commit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building archive request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading archive: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("commit %s not found in %s/%s", commit, owner, repo)
	default:
		return fmt.Errorf("downloading archive: unexpected status %d", resp.StatusCode)
	}

	if err := extractTarGz(resp.Body, destDir); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}
	return nil
}

// extractTarGz unpacks a gzipped tarball into destDir, stripping the single
// top-level directory and rejecting entries that escape destDir.
func extractTarGz(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var remaining int64 = maxSourceBytes

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		rel := stripTopLevel(hdr.Name)
		if rel == "" {
			continue
		}

		target := filepath.Join(destDir, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			n, err := io.Copy(out, io.LimitReader(tr, remaining+1))
			closeErr := out.Close()
			if err != nil {
				return err
			}
			if closeErr != nil {
				return closeErr
			}
			remaining -= n
			if remaining < 0 {
				return errors.New("archive exceeds size limit")
			}
		case tar.TypeSymlink, tar.TypeLink:
			// Links can point outside the sandbox; the build cannot need them.
			continue
		}
	}
}

// stripTopLevel removes the leading "{repo}-{commit}/" path component.
func stripTopLevel(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return strings.TrimSuffix(name[i+1:], "/")
	}
	return ""
}
