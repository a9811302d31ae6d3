package sources

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

const maxCommentTitleLen = 120

// commentPattern matches TODO-style markers after a comment leader.
var commentPattern = regexp.MustCompile(`(?://|#|/\*|<!--|--|;)\s*(TODO|FIXME|HACK|XXX)\b[:\s]*(.*)`)

// maxScanFileSize skips files too large to be hand-written source.
const maxScanFileSize = 1 << 20

// CommentScanner finds TODO, FIXME, HACK, and XXX comments in tracked files.
type CommentScanner struct {
	git *gitx.Git
}

// NewCommentScanner builds a scanner over a git wrapper.
func NewCommentScanner(git *gitx.Git) *CommentScanner {
	return &CommentScanner{git: git}
}

// Name implements Source.
func (c *CommentScanner) Name() string { return "code_comment" }

// isTestFile filters test code: its TODOs describe test gaps the assistant
// should not chase on its own.
func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, "_test.") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(path, "/testdata/")
}

// Scan walks the repository's tracked files and emits one candidate per
// marker comment, keyed by file and line for dedup.
func (c *CommentScanner) Scan(ctx context.Context, workDir string) ([]types.Task, error) {
	if !c.git.IsRepo(ctx, workDir) {
		return nil, nil
	}
	files, err := c.git.TrackedFiles(ctx, workDir)
	if err != nil {
		return nil, err
	}

	var tasks []types.Task
	for _, rel := range files {
		if isTestFile(rel) {
			continue
		}
		found, err := c.scanFile(workDir, rel)
		if err != nil {
			// Unreadable files (deleted since index, permissions) are
			// skipped, not fatal.
			continue
		}
		tasks = append(tasks, found...)
	}
	return tasks, nil
}

func (c *CommentScanner) scanFile(workDir, rel string) ([]types.Task, error) {
	path := filepath.Join(workDir, rel)
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxScanFileSize {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		// Binary.
		return nil, nil
	}

	var tasks []types.Task
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		m := commentPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		marker, text := m[1], strings.TrimSpace(m[2])
		text = strings.TrimSuffix(text, "-->")
		text = strings.TrimSuffix(text, "*/")
		text = strings.TrimSpace(text)

		title := marker
		if text != "" {
			title = marker + ": " + text
		}
		if len(title) > maxCommentTitleLen {
			title = title[:maxCommentTitleLen-3] + "..."
		}

		tasks = append(tasks, types.Task{
			Title: title,
			Description: fmt.Sprintf("Resolve the %s comment at %s:%d.\n\n> %s",
				marker, rel, lineNo, strings.TrimSpace(scanner.Text())),
			Source:    types.SourceCodeComment,
			SourceRef: fmt.Sprintf("%s:%d", rel, lineNo),
		})
	}
	return tasks, scanner.Err()
}
