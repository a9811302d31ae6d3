package sources

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

// queueFileNames are the task queue files looked for in the work directory.
var queueFileNames = []string{".wise-magpie-tasks", "wise-magpie-tasks.md"}

const uncheckedPrefix = "- [ ] "

// QueueFileScanner reads operator-maintained task queue files. Each
// unchecked checkbox line becomes one candidate task.
type QueueFileScanner struct{}

// NewQueueFileScanner builds the scanner.
func NewQueueFileScanner() *QueueFileScanner {
	return &QueueFileScanner{}
}

// Name implements Source.
func (q *QueueFileScanner) Name() string { return "queue_file" }

// Scan parses every queue file present. The dedup key is the file name plus
// the line number of the entry.
func (q *QueueFileScanner) Scan(ctx context.Context, workDir string) ([]types.Task, error) {
	var tasks []types.Task
	for _, name := range queueFileNames {
		found, err := q.scanFile(filepath.Join(workDir, name), name)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, found...)
	}
	return tasks, nil
}

func (q *QueueFileScanner) scanFile(path, name string) ([]types.Task, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tasks []types.Task
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
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
			Description: entry,
			Source:      types.SourceQueueFile,
			SourceRef:   name + ":" + strconv.Itoa(lineNo),
		})
	}
	return tasks, scanner.Err()
}
