package sources

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// MarkdownScanner finds unchecked checkboxes in tracked markdown documents
// outside the dedicated queue files. These are speculative finds and score
// the lowest base priority.
type MarkdownScanner struct {
	git *gitx.Git
}

// NewMarkdownScanner builds a scanner over a git wrapper.
func NewMarkdownScanner(git *gitx.Git) *MarkdownScanner {
	return &MarkdownScanner{git: git}
}

// Name implements Source.
func (m *MarkdownScanner) Name() string { return "markdown" }

// isQueueFile excludes the queue files, which the queue_file source owns.
func isQueueFile(rel string) bool {
	base := filepath.Base(rel)
	for _, name := range queueFileNames {
		if base == name {
			return true
		}
	}
	return false
}

// Scan walks tracked .md files and emits one candidate per unchecked
// checkbox, keyed by file and entry text.
func (m *MarkdownScanner) Scan(ctx context.Context, workDir string) ([]types.Task, error) {
	if !m.git.IsRepo(ctx, workDir) {
		return nil, nil
	}
	files, err := m.git.TrackedFiles(ctx, workDir)
	if err != nil {
		return nil, err
	}

	var tasks []types.Task
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".md") || isQueueFile(rel) {
			continue
		}
		found, err := m.scanFile(workDir, rel)
		if err != nil {
			continue
		}
		tasks = append(tasks, found...)
	}
	return tasks, nil
}

func (m *MarkdownScanner) scanFile(workDir, rel string) ([]types.Task, error) {
	f, err := os.Open(filepath.Join(workDir, rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tasks []types.Task
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, uncheckedPrefix) {
			continue
		}
		entry := strings.TrimSpace(strings.TrimPrefix(line, uncheckedPrefix))
		if entry == "" {
			continue
		}

		title := entry
		if len(title) > maxCommentTitleLen {
			title = title[:maxCommentTitleLen-3] + "..."
		}
		tasks = append(tasks, types.Task{
			Title:       title,
			Description: "From " + rel + ":\n\n" + entry,
			Source:      types.SourceMarkdown,
			SourceRef:   rel + ":" + entry,
		})
	}
	return tasks, scanner.Err()
}
