// Package types defines the core data model shared by the store, the
// scheduler, and the CLI: tasks, their sources and lifecycle, model tiers,
// and the quota/usage records the accountants operate on.
package types

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending        TaskStatus = "pending"
	StatusRunning        TaskStatus = "running"
	StatusCompleted      TaskStatus = "completed"
	StatusFailed         TaskStatus = "failed"
	StatusAwaitingReview TaskStatus = "awaiting_review"
	StatusMerged         TaskStatus = "merged"
	StatusRejected       TaskStatus = "rejected"
)

// legalTransitions defines the only allowed status changes. The scheduler
// owns pending→running→(completed|failed)→awaiting_review; the review
// workflow owns awaiting_review→(merged|rejected|pending).
var legalTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:        {StatusRunning},
	StatusRunning:        {StatusCompleted, StatusFailed},
	StatusCompleted:      {StatusAwaitingReview},
	StatusAwaitingReview: {StatusMerged, StatusRejected, StatusPending},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Validate checks that the status is a known value.
func (s TaskStatus) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed,
		StatusAwaitingReview, StatusMerged, StatusRejected:
		return nil
	}
	return fmt.Errorf("unknown task status: %q", s)
}

// TaskSource identifies where a task came from.
type TaskSource string

const (
	SourceManual       TaskSource = "manual"
	SourceCodeComment  TaskSource = "code_comment"
	SourceQueueFile    TaskSource = "queue_file"
	SourceAutoTemplate TaskSource = "auto_template"
	SourceIssue        TaskSource = "issue"
	SourceMarkdown     TaskSource = "markdown"
)

// Validate checks that the source is a known value.
func (s TaskSource) Validate() error {
	switch s {
	case SourceManual, SourceCodeComment, SourceQueueFile,
		SourceAutoTemplate, SourceIssue, SourceMarkdown:
		return nil
	}
	return fmt.Errorf("unknown task source: %q", s)
}

// Task is one unit of autonomous work.
type Task struct {
	ID             int64
	Title          string
	Description    string
	Source         TaskSource
	SourceRef      string // opaque dedup key, empty for manual tasks
	RequestedModel string // model alias or full id; empty means auto
	Priority       int    // 0-100
	Status         TaskStatus
	WorkDir        string
	BranchName     string
	RetryCount     int
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	ActualCostUSD  float64
	ResultSummary  string
}

// QuotaWindow is the open rolling window of per-model message counts.
type QuotaWindow struct {
	StartedAt        time.Time
	LastCorrectionAt *time.Time
	Consumed         map[Model]int
}

// UsageSample is one user-presence observation.
type UsageSample struct {
	Timestamp time.Time
	Active    bool
}

// UsageRecord is one assistant invocation's accounting row.
type UsageRecord struct {
	ID           int64
	Timestamp    time.Time
	Model        Model
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	TaskID       int64 // 0 when not tied to a task
	Autonomous   bool
}

// DaemonMeta is the singleton daemon bookkeeping row.
type DaemonMeta struct {
	PID        int
	InstanceID string
	StartedAt  time.Time
	LastTickAt time.Time
}
