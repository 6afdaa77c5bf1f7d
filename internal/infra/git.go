package infra

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// GitCheckout clones repo into dest (relative to the current directory) and
// checks out rev, which may be a commit hash, tag or branch name. An existing
// clone is reused.
func GitCheckout(ctx *BuildContext, repo, dest, rev string) error {
	progress := io.Discard
	if ctx.Runner != nil {
		if e, ok := ctx.Runner.(*Executor); ok {
			progress = e.Output
		}
	}

	r, err := git.PlainOpen(dest)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		ctx.Log.Info("cloning", "repo", repo, "dest", dest)
		r, err = git.PlainCloneContext(ctx.Ctx(), dest, false, &git.CloneOptions{
			URL:      repo,
			Progress: progress,
		})
	}
	if err != nil {
		return fmt.Errorf("git clone %s: %w", repo, err)
	}
	if rev == "" {
		return nil
	}

	hash, err := resolveRevision(r, rev)
	if err != nil {
		return err
	}
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("git worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("git checkout %s: %w", rev, err)
	}
	ctx.Log.Debug("checked out", "repo", repo, "rev", rev, "commit", hash.String())
	return nil
}

func resolveRevision(r *git.Repository, rev string) (*plumbing.Hash, error) {
	for _, candidate := range []string{rev, "refs/remotes/origin/" + rev, "refs/tags/" + rev} {
		if h, err := r.ResolveRevision(plumbing.Revision(candidate)); err == nil {
			return h, nil
		}
	}
	return nil, fmt.Errorf("git: unknown revision %q", rev)
}
