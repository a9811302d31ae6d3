package sources

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// initRepo creates a temp repository, writes the given files, and commits.
func initRepo(t *testing.T, files map[string]string) string {
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
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	run("add", ".")
	run("commit", "-m", "initial commit")
	return dir
}

func newGit(t *testing.T) *gitx.Git {
	t.Helper()
	g, err := gitx.New(context.Background())
	if err != nil {
		t.Skip("git not available")
	}
	return g
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "magpie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommentScanner(t *testing.T) {
	dir := initRepo(t, map[string]string{
		"main.go":        "package main\n\n// TODO: handle the error path\nfunc main() {}\n",
		"util.py":        "# FIXME retry on timeout\nx = 1\n",
		"main_test.go":   "package main\n\n// TODO: add edge case tests\n",
		"notes.txt":      "nothing here\n",
		"web/index.html": "<!-- HACK: inline styles until the theme lands -->\n",
	})

	scanner := NewCommentScanner(newGit(t))
	tasks, err := scanner.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	byRef := map[string]types.Task{}
	for _, task := range tasks {
		byRef[task.SourceRef] = task
	}

	todo, ok := byRef["main.go:3"]
	require.True(t, ok, "refs: %v", byRef)
	assert.Equal(t, "TODO: handle the error path", todo.Title)
	assert.Equal(t, types.SourceCodeComment, todo.Source)
	assert.Contains(t, todo.Description, "main.go:3")

	fixme, ok := byRef["util.py:1"]
	require.True(t, ok)
	assert.Equal(t, "FIXME: retry on timeout", fixme.Title)

	hack, ok := byRef["web/index.html:1"]
	require.True(t, ok)
	assert.Equal(t, "HACK: inline styles until the theme lands", hack.Title)
}

func TestCommentScannerTruncatesLongTitles(t *testing.T) {
	long := "// TODO: " + strings.Repeat("very long title ", 40)
	dir := initRepo(t, map[string]string{"a.go": "package a\n" + long + "\n"})

	scanner := NewCommentScanner(newGit(t))
	tasks, err := scanner.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.LessOrEqual(t, len(tasks[0].Title), 120)
}

func TestQueueFileScanner(t *testing.T) {
	dir := t.TempDir()
	content := "# Tasks\n\n- [ ] refactor the config loader\n- [x] already done\n- [ ] add retry logic\nnot a task\n- [ ]   \n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".wise-magpie-tasks"), []byte(content), 0o644))

	scanner := NewQueueFileScanner()
	tasks, err := scanner.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "refactor the config loader", tasks[0].Title)
	assert.Equal(t, types.SourceQueueFile, tasks[0].Source)
	assert.Equal(t, ".wise-magpie-tasks:3", tasks[0].SourceRef)
	assert.Equal(t, "add retry logic", tasks[1].Title)
	assert.Equal(t, ".wise-magpie-tasks:5", tasks[1].SourceRef)
}

func TestQueueFileScannerMissingFiles(t *testing.T) {
	tasks, err := NewQueueFileScanner().Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestMarkdownScanner(t *testing.T) {
	dir := initRepo(t, map[string]string{
		"ROADMAP.md":           "# Roadmap\n\n- [ ] ship the importer\n- [x] done already\n",
		"wise-magpie-tasks.md": "- [ ] queue entry, not markdown's\n",
		"main.go":              "package main\n",
	})

	scanner := NewMarkdownScanner(newGit(t))
	tasks, err := scanner.Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "ship the importer", tasks[0].Title)
	assert.Equal(t, types.SourceMarkdown, tasks[0].Source)
	assert.Equal(t, "ROADMAP.md:ship the importer", tasks[0].SourceRef)
}

func TestTemplateSourceGates(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "package main\n"})
	s := newStore(t)
	cfg := config.Default()
	cfg.AutoTasks.Enabled = true
	cfg.AutoTasks.WorkDir = dir
	ctx := context.Background()

	src := NewTemplateSource(s, cfg, newGit(t))
	now := time.Now()
	src.now = func() time.Time { return now }

	tasks, err := src.Scan(ctx, dir)
	require.NoError(t, err)

	byType := map[string]types.Task{}
	for _, task := range tasks {
		byType[task.SourceRef] = task
	}
	today := now.Format("2006-01-02")

	// The fresh commit satisfies run_tests' new-commit and lint_check's
	// code-change conditions.
	assert.Contains(t, byType, "run_tests:"+today)
	assert.Contains(t, byType, "lint_check:"+today)
	// clean_commits requires 10 commits over main; there are none.
	assert.NotContains(t, byType, "clean_commits:"+today)
	// dependency_check has no activity conditions.
	assert.Contains(t, byType, "dependency_check:"+today)

	// A recent completion suppresses the template until its interval elapses.
	task := types.Task{
		Title: "x", Source: types.SourceAutoTemplate,
		SourceRef: "dependency_check:2026-01-01", WorkDir: dir,
	}
	require.NoError(t, s.CreateTask(ctx, &task))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, types.StatusRunning))
	require.NoError(t, s.FinishTask(ctx, task.ID, types.StatusCompleted, "ok", 0))

	tasks, err = src.Scan(ctx, dir)
	require.NoError(t, err)
	for _, got := range tasks {
		assert.NotContains(t, got.SourceRef, "dependency_check:")
	}

	// A week later the 168h interval has elapsed and it triggers again.
	src.now = func() time.Time { return now.Add(169 * time.Hour) }
	tasks, err = src.Scan(ctx, dir)
	require.NoError(t, err)
	later := now.Add(169 * time.Hour).Format("2006-01-02")
	found := false
	for _, got := range tasks {
		if got.SourceRef == "dependency_check:"+later {
			found = true
		}
	}
	assert.True(t, found, "dependency_check should re-trigger after its interval")
}

func TestTemplateSourceConfigOverrides(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "package main\n"})
	s := newStore(t)
	cfg := config.Default()
	cfg.AutoTasks.Enabled = true
	disabled := false
	cfg.AutoTasks.Templates["run_tests"] = config.TemplateOverride{Enabled: &disabled}

	src := NewTemplateSource(s, cfg, newGit(t))
	tasks, err := src.Scan(context.Background(), dir)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.NotContains(t, task.SourceRef, "run_tests:")
	}
}

func TestAggregatorScanIsIdempotent(t *testing.T) {
	dir := initRepo(t, map[string]string{
		"main.go": "package main\n\n// TODO: wire up flags\nfunc main() {}\n",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".wise-magpie-tasks"),
		[]byte("- [ ] write a README\n"), 0o644))

	s := newStore(t)
	cfg := config.Default()
	cfg.AutoTasks.WorkDir = dir

	agg := NewAggregator(s, cfg, newGit(t))
	ctx := context.Background()

	first, err := agg.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Added)
	assert.Equal(t, 0, first.Duplicates)

	second, err := agg.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 2, second.Duplicates)

	tasks, err := s.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, types.StatusPending, task.Status)
		assert.Equal(t, dir, task.WorkDir)
		assert.Greater(t, task.Priority, 0)
	}
}
