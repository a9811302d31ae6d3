package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// initRepo creates a temp repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")
	return dir
}

func TestCleanAndBranchLifecycle(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	g, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !g.IsRepo(ctx, dir) {
		t.Fatal("IsRepo = false for a fresh repository")
	}

	clean, err := g.IsClean(ctx, dir)
	if err != nil || !clean {
		t.Fatalf("IsClean = %v, %v; want true", clean, err)
	}

	// Dirty the tree.
	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = g.IsClean(ctx, dir)
	if err != nil || clean {
		t.Fatalf("IsClean = %v, %v; want false with untracked file", clean, err)
	}
	os.Remove(filepath.Join(dir, "scratch.txt"))

	branch, err := g.CurrentBranch(ctx, dir)
	if err != nil || branch != "main" {
		t.Fatalf("CurrentBranch = %q, %v; want main", branch, err)
	}

	if err := g.CreateBranch(ctx, dir, "assistant/fix-login-bug-1"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	branch, _ = g.CurrentBranch(ctx, dir)
	if branch != "assistant/fix-login-bug-1" {
		t.Fatalf("after create, branch = %q", branch)
	}

	exists, err := g.BranchExists(ctx, dir, "assistant/fix-login-bug-1")
	if err != nil || !exists {
		t.Fatalf("BranchExists = %v, %v; want true", exists, err)
	}

	if err := g.Checkout(ctx, dir, "main"); err != nil {
		t.Fatalf("Checkout main: %v", err)
	}
	if err := g.DeleteBranch(ctx, dir, "assistant/fix-login-bug-1"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
}

func TestBaseBranchAndCounts(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()
	g, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base, err := g.BaseBranch(ctx, dir)
	if err != nil || base != "main" {
		t.Fatalf("BaseBranch = %q, %v; want main", base, err)
	}

	// Two commits on a feature branch.
	if err := g.CreateBranch(ctx, dir, "feature"); err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{byte('0' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		cmd := exec.Command("git", "-C", dir, "add", ".")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git add: %v\n%s", err, out)
		}
		cmd = exec.Command("git", "-C", dir, "-c", "user.name=test", "-c", "user.email=test@example.com",
			"commit", "-m", "add "+name)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git commit: %v\n%s", err, out)
		}
	}

	n, err := g.CommitCountAgainstBase(ctx, dir)
	if err != nil || n != 2 {
		t.Fatalf("CommitCountAgainstBase = %d, %v; want 2", n, err)
	}

	has, err := g.HasCommitsSince(ctx, dir, time.Now().Add(-time.Hour))
	if err != nil || !has {
		t.Fatalf("HasCommitsSince(-1h) = %v, %v; want true", has, err)
	}
	has, err = g.HasCodeChangesSince(ctx, dir, time.Now().Add(-time.Hour))
	if err != nil || !has {
		t.Fatalf("HasCodeChangesSince(-1h) = %v, %v; want true", has, err)
	}

	files, err := g.TrackedFiles(ctx, dir)
	if err != nil || len(files) != 3 {
		t.Fatalf("TrackedFiles = %v, %v; want 3 files", files, err)
	}

	log, err := g.BranchLog(ctx, dir, "feature", "main")
	if err != nil || log == "" {
		t.Fatalf("BranchLog = %q, %v", log, err)
	}

	// Merge back into main.
	if err := g.Checkout(ctx, dir, "main"); err != nil {
		t.Fatal(err)
	}
	if err := g.Merge(ctx, dir, "feature", "Merge assistant work: feature"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
}
