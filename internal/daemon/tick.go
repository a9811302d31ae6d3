package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/policy"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

// tick is one scheduler pass: bookkeeping first, then the dispatch gates in
// order, then at most one task. Every skipped dispatch logs its reason.
func (d *Daemon) tick(ctx context.Context) error {
	now := time.Now()

	d.monitor.BeginTick()
	if err := d.monitor.RecordSample(ctx, now); err != nil {
		return err
	}
	rolled, err := d.acct.RollIfDue(ctx, now)
	if err != nil {
		return err
	}
	if rolled {
		d.logger.Printf("quota window rolled over")
	}
	if _, err := d.store.PruneSamplesBefore(ctx, now.Add(-sampleRetention)); err != nil {
		return err
	}
	if err := d.store.TouchDaemonTick(ctx, now); err != nil {
		return err
	}

	// Gate 1: the operator is at the keyboard.
	if d.monitor.IsActive(ctx) {
		return nil
	}

	// Gate 2: not idle long enough yet.
	idle, known, err := d.monitor.IdleDuration(ctx, now)
	if err != nil {
		return err
	}
	threshold := time.Duration(d.cfg.Activity.IdleThresholdMinutes) * time.Minute
	if known && idle < threshold {
		d.logger.Printf("skip: idle %s below threshold %s", idle.Round(time.Second), threshold)
		return nil
	}

	// Gate 3: the operator is predicted back too soon.
	minutes, ok, err := d.predictor.MinutesUntilLikelyReturn(ctx, now)
	if err != nil {
		return err
	}
	if ok && minutes < d.cfg.Activity.ReturnBufferMinutes {
		d.logger.Printf("skip: predicted return in %d min (buffer %d min)",
			minutes, d.cfg.Activity.ReturnBufferMinutes)
		return nil
	}

	// Gate 4: the daily budget is spent.
	spent, err := d.budget.DailySpent(ctx, now)
	if err != nil {
		return err
	}
	if spent >= d.cfg.Budget.MaxDailyUSD {
		d.logger.Printf("skip: daily budget exhausted ($%.2f of $%.2f)",
			spent, d.cfg.Budget.MaxDailyUSD)
		return nil
	}

	// Gate 5: nothing to do.
	pending, err := d.store.ListTasks(ctx, store.TaskFilter{Status: types.StatusPending, Limit: 1})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// Gate 6: a task is already running. The claim below enforces this
	// atomically; the explicit check keeps the log honest.
	running, err := d.store.ListTasks(ctx, store.TaskFilter{Status: types.StatusRunning, Limit: 1})
	if err != nil {
		return err
	}
	if len(running) > 0 {
		d.logger.Printf("skip: task %d still running", running[0].ID)
		return nil
	}

	candidate := pending[0]
	decision, skip, err := d.decide(ctx, now, candidate)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	task, err := d.store.ClaimNextPending(ctx)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	if task.ID != candidate.ID {
		// The queue moved between the peek and the claim; decide again
		// for the task actually claimed.
		decision, skip, err = d.decide(ctx, now, task)
		if err != nil || skip {
			if rerr := d.store.ReleaseTask(ctx, task.ID); rerr != nil {
				d.logger.Printf("releasing task %d: %v", task.ID, rerr)
			}
			return err
		}
	}
	return d.dispatch(ctx, task, decision)
}

// decide picks the model for a task and checks the daily budget against its
// cost estimate. skip means the task cannot run this tick.
func (d *Daemon) decide(ctx context.Context, now time.Time, task *types.Task) (*policy.Decision, bool, error) {
	decision, err := d.selector.Select(ctx, now, task)
	if err != nil {
		return nil, false, err
	}
	if decision.Model == "" {
		d.logger.Printf("skip: %s", decision.Reason)
		return nil, true, nil
	}

	estimate := decision.Model.AverageTaskCostUSD()
	admits, reason, err := d.budget.AdmitsTask(ctx, now, estimate)
	if err != nil {
		return nil, false, err
	}
	if !admits {
		d.logger.Printf("skip: estimated $%.2f for task %d exceeds %s",
			estimate, task.ID, reason)
		return nil, true, nil
	}
	return decision, false, nil
}

// dispatch consumes quota, runs the task, and books the outcome. Bookkeeping
// after the run uses a fresh context so results survive a shutdown signal.
func (d *Daemon) dispatch(ctx context.Context, task *types.Task, decision *policy.Decision) error {
	model := decision.Model
	if err := d.acct.Consume(ctx, model); err != nil {
		return err
	}
	d.logger.Printf("dispatching task %d %q on %s (difficulty %s, upgraded=%v, downgraded=%d)",
		task.ID, task.Title, model.Alias(), decision.Difficulty, decision.Upgraded, decision.Downgraded)

	// A stop signal gives the running task a grace period instead of
	// killing the subprocess outright.
	taskCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(shutdownGrace, cancel)
	})
	defer stop()

	res, runErr := d.exec.Run(taskCtx, task, model)

	bg := context.Background()
	if runErr != nil {
		// A failed run does not count against the window, whether the
		// assistant was never invoked or it errored mid-task.
		if err := d.acct.Refund(bg, model); err != nil {
			d.logger.Printf("refund failed: %v", err)
		}
		if err := d.store.FinishTask(bg, task.ID, types.StatusFailed, runErr.Error(), 0); err != nil {
			return fmt.Errorf("recording failure of task %d: %w", task.ID, err)
		}
		d.logger.Printf("task %d failed: %v", task.ID, runErr)
		return nil
	}

	if err := d.store.SetTaskBranch(bg, task.ID, res.Branch); err != nil {
		return err
	}
	if err := d.store.FinishTask(bg, task.ID, types.StatusCompleted, res.Summary, res.CostUSD); err != nil {
		return err
	}
	if err := d.store.UpdateTaskStatus(bg, task.ID, types.StatusAwaitingReview); err != nil {
		return err
	}
	if err := d.budget.Record(bg, types.UsageRecord{
		Timestamp:    time.Now(),
		Model:        model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      res.CostUSD,
		TaskID:       task.ID,
		Autonomous:   true,
	}); err != nil {
		return err
	}
	d.logger.Printf("task %d completed on branch %s ($%.2f), awaiting review", task.ID, res.Branch, res.CostUSD)
	return nil
}
