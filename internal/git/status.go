package git

import (
	"fmt"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// openRepository opens the repository containing dir, searching parent
// directories for the .git entry.
func openRepository(dir string) (*gogit.Repository, error) {
	return gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
}

// HasStagedChanges reports whether the index of the repository containing dir
// differs from HEAD for any path under dir.
// Untracked files that were never added do not count.
func HasStagedChanges(dir string) (bool, error) {
	repo, err := openRepository(dir)
	if err != nil {
		return false, fmt.Errorf("open repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}

	prefix, err := worktreePrefix(wt.Filesystem.Root(), dir)
	if err != nil {
		return false, err
	}

	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("read status: %w", err)
	}

	for path, fs := range status {
		if prefix != "" && !strings.HasPrefix(path, prefix) {
			continue
		}
		if fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// worktreePrefix returns dir relative to root as a slash path ending in "/",
// or "" when dir is the worktree root.
func worktreePrefix(root, dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	rel, err := filepath.Rel(root, absDir)
	if err != nil {
		return "", fmt.Errorf("resolve %s against %s: %w", dir, root, err)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel) + "/", nil
}

// AheadOfRemote reports whether HEAD carries commits the remote-tracking
// branch remote/branch does not. An empty branch means the checked-out one.
// A missing tracking ref or a detached HEAD reports false.
func AheadOfRemote(dir, remote, branch string) (bool, error) {
	repo, err := openRepository(dir)
	if err != nil {
		return false, fmt.Errorf("open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("resolve HEAD: %w", err)
	}
	if branch == "" {
		if !head.Name().IsBranch() {
			return false, nil
		}
		branch = head.Name().Short()
	}

	tracking, err := repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	if err != nil {
		return false, nil
	}
	if tracking.Hash() == head.Hash() {
		return false, nil
	}

	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return false, fmt.Errorf("read HEAD commit: %w", err)
	}
	trackingCommit, err := repo.CommitObject(tracking.Hash())
	if err != nil {
		// tracking commit is not in the local object store
		return false, nil
	}
	return trackingCommit.IsAncestor(headCommit)
}

// RemoteURL returns the first URL configured for the named remote, or "" when
// the repository or remote cannot be resolved.
func RemoteURL(dir, remote string) string {
	repo, err := openRepository(dir)
	if err != nil {
		return ""
	}
	r, err := repo.Remote(remote)
	if err != nil {
		return ""
	}
	urls := r.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
