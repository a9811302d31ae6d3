// Package gitx wraps the git CLI for the operations the executor, the
// auto-task gate checks, and the review workflow need. The working tree is
// shared with the operator, so every mutation here is paired with a
// restore path.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrGitNotFound means the git binary is missing from PATH.
	ErrGitNotFound = errors.New("git not found in PATH")
	// ErrNotARepo means the directory is not inside a git work tree.
	ErrNotARepo = errors.New("not a git repository")
	// ErrDirtyWorkingTree means uncommitted changes block autonomous work.
	ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes")
)

// Git runs git commands against a repository.
type Git struct {
	gitPath string
}

// New locates the git binary and verifies it runs.
func New(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, ErrGitNotFound
	}
	if err := exec.CommandContext(ctx, gitPath, "version").Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}
	return &Git{gitPath: gitPath}, nil
}

// run executes git with -C repoPath and returns trimmed stdout.
func (g *Git) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	full := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, g.gitPath, full...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "),
				strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether repoPath is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context, repoPath string) bool {
	out, err := g.run(ctx, repoPath, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// IsClean reports whether the working tree has no uncommitted changes.
func (g *Git) IsClean(ctx context.Context, repoPath string) (bool, error) {
	out, err := g.run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	return g.run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(ctx context.Context, repoPath, branch string) (bool, error) {
	out, err := g.run(ctx, repoPath, "branch", "--list", branch)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CreateBranch creates and checks out a new branch from the current HEAD.
func (g *Git) CreateBranch(ctx context.Context, repoPath, branch string) error {
	_, err := g.run(ctx, repoPath, "checkout", "-b", branch)
	return err
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, repoPath, branch string) error {
	_, err := g.run(ctx, repoPath, "checkout", branch)
	return err
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	_, err := g.run(ctx, repoPath, "branch", "-D", branch)
	return err
}

// BaseBranch returns "main" or "master", whichever exists.
func (g *Git) BaseBranch(ctx context.Context, repoPath string) (string, error) {
	for _, base := range []string{"main", "master"} {
		exists, err := g.BranchExists(ctx, repoPath, base)
		if err != nil {
			return "", err
		}
		if exists {
			return base, nil
		}
	}
	return "", fmt.Errorf("no main or master branch in %s", repoPath)
}

// CommitCountAgainstBase counts commits on the current branch since it
// forked from main/master. Returns 0 when no base branch exists.
func (g *Git) CommitCountAgainstBase(ctx context.Context, repoPath string) (int, error) {
	base, err := g.BaseBranch(ctx, repoPath)
	if err != nil {
		return 0, nil
	}
	out, err := g.run(ctx, repoPath, "rev-list", "--count", base+"..HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", out, err)
	}
	return n, nil
}

// HasCommitsSince reports whether any commit landed after since.
func (g *Git) HasCommitsSince(ctx context.Context, repoPath string, since time.Time) (bool, error) {
	out, err := g.run(ctx, repoPath, "log", "--oneline", "-1",
		"--since="+since.Format("2006-01-02T15:04:05"))
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// HasCodeChangesSince reports whether any tracked file was added, copied,
// modified, or renamed since the given time.
func (g *Git) HasCodeChangesSince(ctx context.Context, repoPath string, since time.Time) (bool, error) {
	out, err := g.run(ctx, repoPath, "log", "--oneline", "-1", "--diff-filter=ACMR",
		"--since="+since.Format("2006-01-02T15:04:05"))
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// TrackedFiles lists files under version control.
func (g *Git) TrackedFiles(ctx context.Context, repoPath string) ([]string, error) {
	out, err := g.run(ctx, repoPath, "ls-files")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// BranchDiff returns the diff of a work branch against its base.
func (g *Git) BranchDiff(ctx context.Context, repoPath, branch, base string) (string, error) {
	return g.run(ctx, repoPath, "diff", base+"..."+branch)
}

// BranchLog returns the one-line commit log of a work branch against its base.
func (g *Git) BranchLog(ctx context.Context, repoPath, branch, base string) (string, error) {
	return g.run(ctx, repoPath, "log", "--oneline", base+".."+branch)
}

// Merge merges a work branch into the currently checked-out branch with a
// merge commit. On conflict the merge is aborted and the tree restored.
func (g *Git) Merge(ctx context.Context, repoPath, branch, message string) error {
	if _, err := g.run(ctx, repoPath, "merge", "--no-ff", branch, "-m", message); err != nil {
		// Leave the operator a clean tree.
		g.run(ctx, repoPath, "merge", "--abort") //nolint:errcheck
		return fmt.Errorf("merging %s: %w", branch, err)
	}
	return nil
}
