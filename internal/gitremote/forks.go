package gitremote

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// SyncForks brings local clones of the given fork URLs up to date under
// the clones directory. The origin URL is skipped; each fork fails
// independently and the first failure is reported after all forks have
// been attempted.
func (r *Remote) SyncForks(urls []string) error {
	if err := os.MkdirAll(r.clonesDir, 0755); err != nil {
		return fmt.Errorf("creating clones directory: %w", err)
	}

	var firstErr error
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" || url == r.originURL {
			continue
		}
		if err := r.syncFork(url); err != nil {
			r.logger.Warn("fork sync failed", "url", url, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("syncing %s: %w", url, err)
			}
		}
	}
	return firstErr
}

func (r *Remote) syncFork(url string) error {
	dir := filepath.Join(r.clonesDir, cloneName(url))

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return r.pullFork(dir)
	}

	repo, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:        url,
		NoCheckout: true,
	})
	if err != nil {
		return fmt.Errorf("cloning: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	// Only the message subtree matters for merging.
	err = wt.Checkout(&git.CheckoutOptions{
		SparseCheckoutDirectories: []string{r.messagesDir},
	})
	if err != nil {
		return fmt.Errorf("checking out %s: %w", r.messagesDir, err)
	}
	r.logger.Info("cloned fork", "url", url, "dir", dir)
	return nil
}

func (r *Remote) pullFork(dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("opening clone: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	err = wt.Pull(&git.PullOptions{RemoteName: "origin"})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pulling: %w", err)
	}
	return nil
}

// cloneName derives a stable directory name from a fork URL. The last
// two path segments identify a fork well enough on the usual hosts:
// https://github.com/alice/chat.git becomes alice_chat.
func cloneName(url string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if n := len(parts); n >= 2 {
		return sanitize(parts[n-2]) + "_" + sanitize(parts[n-1])
	}
	return sanitize(trimmed)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
