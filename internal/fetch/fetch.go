// Package fetch materializes contract source trees at a pinned commit.
package fetch

import "context"

// Fetcher materializes the source tree for owner/repo at commit into destDir.
type Fetcher interface {
	Fetch(ctx context.Context, owner, repo, commit, destDir string) error
}
