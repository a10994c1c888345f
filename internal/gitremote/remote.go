// Package gitremote keeps the local message repository consistent with
// a git origin and a set of fork clones. All operations are best-effort
// from the caller's point of view: a failed pull or push is a log
// line, never a failed save.
package gitremote

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gitchat/internal/chat"
)

// DefaultPullInterval is the minimum spacing between origin pulls.
const DefaultPullInterval = 5 * time.Second

// Remote synchronizes the repository at repoPath with its origin and
// with fork clones under clonesDir.
type Remote struct {
	repoPath     string
	originURL    string
	clonesDir    string
	messagesDir  string // repo-relative message subtree, e.g. "messages"
	pullInterval time.Duration
	logger       chat.Logger
	clock        chat.Clock

	// pullMu makes pulls single-flight; overlapping pulls are wasted
	// work, not a correctness problem.
	pullMu     sync.Mutex
	lastPullMu sync.Mutex
	lastPull   time.Time
}

// New creates a Remote for the repository at repoPath.
func New(repoPath, originURL, clonesDir, messagesDir string, pullInterval time.Duration, logger chat.Logger, clock chat.Clock) *Remote {
	if pullInterval <= 0 {
		pullInterval = DefaultPullInterval
	}
	return &Remote{
		repoPath:     repoPath,
		originURL:    originURL,
		clonesDir:    clonesDir,
		messagesDir:  messagesDir,
		pullInterval: pullInterval,
		logger:       logger,
		clock:        clock,
	}
}

// PullFromOrigin fetches the origin and fast-forwards the local branch
// when it is strictly behind its remote tracking branch. Calls within
// the rate-limit window, concurrent calls, and an up-to-date or
// diverged local branch are all no-ops.
func (r *Remote) PullFromOrigin() error {
	if !r.pullDue() {
		return nil
	}
	if !r.pullMu.TryLock() {
		return nil
	}
	defer r.pullMu.Unlock()

	repo, err := git.PlainOpen(r.repoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	if err := repo.Fetch(&git.FetchOptions{RemoteName: "origin"}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching origin: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", head.Name().Short()), true)
	if err != nil {
		// No tracking branch yet; nothing to fast-forward onto.
		r.logger.Debug("no remote tracking branch", "branch", head.Name().Short())
		return nil
	}

	if head.Hash() == remoteRef.Hash() {
		return nil
	}

	behind, err := r.strictlyBehind(repo, head.Hash(), remoteRef.Hash())
	if err != nil {
		return fmt.Errorf("comparing with remote: %w", err)
	}
	if !behind {
		r.logger.Warn("local branch has diverged from origin, skipping pull")
		return nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("fast-forwarding to origin: %w", err)
	}

	r.logger.Info("pulled from origin", "commit", remoteRef.Hash().String())
	return nil
}

// pullDue applies the rate limit and records the attempt.
func (r *Remote) pullDue() bool {
	r.lastPullMu.Lock()
	defer r.lastPullMu.Unlock()
	now := r.clock.Now()
	if now.Sub(r.lastPull) < r.pullInterval {
		return false
	}
	r.lastPull = now
	return true
}

// strictlyBehind reports whether local is an ancestor of remote.
func (r *Remote) strictlyBehind(repo *git.Repository, local, remote plumbing.Hash) (bool, error) {
	localCommit, err := repo.CommitObject(local)
	if err != nil {
		return false, err
	}
	remoteCommit, err := repo.CommitObject(remote)
	if err != nil {
		return false, err
	}
	return localCommit.IsAncestor(remoteCommit)
}

// Publish stages exactly relPath, commits it attributed to author, and
// pushes. Implements chat.Publisher. A push failure is logged and
// swallowed; the commit stays local until the next push succeeds.
func (r *Remote) Publish(relPath, author string) error {
	repo, err := git.PlainOpen(r.repoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	if _, err := wt.Add(relPath); err != nil {
		return fmt.Errorf("staging %s: %w", relPath, err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("checking status: %w", err)
	}
	st := status.File(relPath)
	if st.Staging != git.Added && st.Staging != git.Modified {
		r.logger.Debug("nothing staged, skipping commit", "path", relPath)
		return nil
	}

	_, err = wt.Commit(fmt.Sprintf("Add message from %s", author), &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: author + "@gitchat.local",
			When:  r.clock.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("committing %s: %w", relPath, err)
	}

	if err := repo.Push(&git.PushOptions{RemoteName: "origin"}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		r.logger.Warn("push failed, commit kept local", "path", relPath, "error", err)
	}
	return nil
}

// FileTime returns the commit time of the most recent commit touching
// relPath. Used as the history fallback when a message carries no
// timestamp of its own.
func (r *Remote) FileTime(relPath string) (time.Time, bool) {
	repo, err := git.PlainOpen(r.repoPath)
	if err != nil {
		return time.Time{}, false
	}

	iter, err := repo.Log(&git.LogOptions{FileName: &relPath})
	if err != nil {
		return time.Time{}, false
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil {
		return time.Time{}, false
	}
	return commit.Committer.When, true
}
