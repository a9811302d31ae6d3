package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

const taskColumns = `id, title, description, source, source_ref, requested_model,
	priority, status, work_dir, branch_name, retry_count,
	created_at, started_at, finished_at, actual_cost_usd, result_summary`

// branchAllowed reports whether the branch_name column may stay set in the
// given status. Invariant: branch_name is set iff status is running,
// completed, or awaiting_review.
func branchAllowed(status types.TaskStatus) bool {
	switch status {
	case types.StatusRunning, types.StatusCompleted, types.StatusAwaitingReview:
		return true
	}
	return false
}

func scanTask(row interface{ Scan(...any) error }) (*types.Task, error) {
	var t types.Task
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Source, &t.SourceRef, &t.RequestedModel,
		&t.Priority, &t.Status, &t.WorkDir, &t.BranchName, &t.RetryCount,
		&t.CreatedAt, &startedAt, &finishedAt, &t.ActualCostUSD, &t.ResultSummary,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	return &t, nil
}

// CreateTask inserts a new task and fills in its id. A non-empty
// (source, source_ref) pair that already exists yields ErrDuplicateTask.
func (s *Store) CreateTask(ctx context.Context, t *types.Task) error {
	if err := t.Source.Validate(); err != nil {
		return err
	}
	if t.Status == "" {
		t.Status = types.StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (title, description, source, source_ref, requested_model,
			priority, status, work_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, t.Source, t.SourceRef, t.RequestedModel,
		t.Priority, t.Status, t.WorkDir, t.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateTask
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading task id: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task %d: %w", id, err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status types.TaskStatus // empty means all
	Source types.TaskSource // empty means all
	Limit  int              // 0 means unlimited
}

// ListTasks returns tasks matching the filter, highest priority first,
// oldest first on ties.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*types.Task, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority DESC, id ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// HasTaskWithSourceRef reports whether a task already exists for the dedup key.
func (s *Store) HasTaskWithSourceRef(ctx context.Context, source types.TaskSource, ref string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE source = ? AND source_ref = ?`, source, ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking source_ref: %w", err)
	}
	return n > 0, nil
}

// ClaimNextPending atomically selects the highest-priority pending task
// (FIFO on ties) and marks it running. Returns nil when no task is pending.
// The guarded UPDATE enforces at-most-one running task even against
// concurrent claimants.
func (s *Store) ClaimNextPending(ctx context.Context) (*types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		ORDER BY priority DESC, id ASC
		LIMIT 1`, types.StatusPending)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending task: %w", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
		  AND NOT EXISTS (SELECT 1 FROM tasks WHERE status = ?)`,
		types.StatusRunning, now, t.ID, types.StatusPending, types.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("claiming task %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking claim of task %d: %w", t.ID, err)
	}
	if n == 0 {
		// Lost the race or a task is already running.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	t.Status = types.StatusRunning
	t.StartedAt = &now
	return t, nil
}

// UpdateTaskStatus moves a task to a new status, enforcing lifecycle
// legality. The branch column is cleared whenever the new status does not
// permit a branch.
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, to types.TaskStatus) error {
	if err := to.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var from types.TaskStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&from)
	if err == sql.ErrNoRows {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("reading task %d status: %w", id, err)
	}
	if !types.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	query := `UPDATE tasks SET status = ?`
	args := []any{to}
	if !branchAllowed(to) {
		query += `, branch_name = ''`
	}
	if to == types.StatusPending {
		// Requeue: a fresh run gets fresh timestamps.
		query += `, started_at = NULL, finished_at = NULL`
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating task %d status: %w", id, err)
	}
	return tx.Commit()
}

// SetTaskBranch records the branch a running task works on.
func (s *Store) SetTaskBranch(ctx context.Context, id int64, branch string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET branch_name = ? WHERE id = ?`, branch, id)
	if err != nil {
		return fmt.Errorf("setting branch for task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// AppendTaskDescription adds operator guidance to a task's description.
func (s *Store) AppendTaskDescription(ctx context.Context, id int64, text string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET description = CASE WHEN description = '' THEN ? ELSE description || char(10) || char(10) || ? END
		WHERE id = ?`, text, text, id)
	if err != nil {
		return fmt.Errorf("appending description to task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// FinishTask moves a running task to completed or failed, recording the
// result summary, cost, and finish time. Completed auto-template tasks also
// bump their template's last-completion timestamp. Failed tasks lose their
// branch reference per the branch invariant.
func (s *Store) FinishTask(ctx context.Context, id int64, to types.TaskStatus, summary string, costUSD float64) error {
	if to != types.StatusCompleted && to != types.StatusFailed {
		return fmt.Errorf("%w: finish must target completed or failed, got %s", ErrIllegalTransition, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var from types.TaskStatus
	var source types.TaskSource
	var sourceRef string
	err = tx.QueryRowContext(ctx,
		`SELECT status, source, source_ref FROM tasks WHERE id = ?`, id).Scan(&from, &source, &sourceRef)
	if err == sql.ErrNoRows {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("reading task %d: %w", id, err)
	}
	if !types.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	now := time.Now()
	query := `UPDATE tasks SET status = ?, result_summary = ?, actual_cost_usd = ?, finished_at = ?`
	if !branchAllowed(to) {
		query += `, branch_name = ''`
	}
	query += ` WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, to, summary, costUSD, now, id); err != nil {
		return fmt.Errorf("finishing task %d: %w", id, err)
	}

	if to == types.StatusCompleted && source == types.SourceAutoTemplate {
		taskType := sourceRef
		if i := strings.IndexByte(sourceRef, ':'); i > 0 {
			taskType = sourceRef[:i]
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO auto_template_runs (task_type, completed_at) VALUES (?, ?)
			ON CONFLICT(task_type) DO UPDATE SET completed_at = excluded.completed_at`,
			taskType, now); err != nil {
			return fmt.Errorf("recording template completion: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteTask removes a task. Running tasks are protected.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status types.TaskStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("reading task %d: %w", id, err)
	}
	if status == types.StatusRunning {
		return ErrTaskBusy
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	return tx.Commit()
}

// SweepOrphanRunning returns tasks abandoned in the running state (after an
// abrupt daemon termination) to pending, preserving their retry counts.
// Returns the number of tasks swept.
func (s *Store) SweepOrphanRunning(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, started_at = NULL, branch_name = ''
		WHERE status = ?`, types.StatusPending, types.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("sweeping orphan tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept tasks: %w", err)
	}
	return int(n), nil
}

// ReleaseTask undoes a claim that was never dispatched, returning the task
// to the pending queue.
func (s *Store) ReleaseTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, started_at = NULL, branch_name = ''
		WHERE id = ? AND status = ?`, types.StatusPending, id, types.StatusRunning)
	if err != nil {
		return fmt.Errorf("releasing task %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// UpdateTaskPriority rescores a task.
func (s *Store) UpdateTaskPriority(ctx context.Context, id int64, priority int) error {
	if priority < 0 || priority > 100 {
		return fmt.Errorf("priority %d out of range [0, 100]", priority)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET priority = ? WHERE id = ?`, priority, id)
	if err != nil {
		return fmt.Errorf("updating priority for task %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// LastTemplateCompletion returns when an auto-task template last completed.
func (s *Store) LastTemplateCompletion(ctx context.Context, taskType string) (time.Time, bool, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT completed_at FROM auto_template_runs WHERE task_type = ?`, taskType).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying template completion: %w", err)
	}
	return at, true, nil
}
