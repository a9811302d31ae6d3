package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisemagpie/wise-magpie/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "magpie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{
		Title:       "Fix login bug",
		Description: "Session cookie expires too early",
		Source:      types.SourceManual,
		Priority:    65,
		WorkDir:     "/repo",
	}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NotZero(t, task.ID)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix login bug", got.Title)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, 65, got.Priority)
	assert.Nil(t, got.StartedAt)

	_, err = s.GetTask(ctx, 9999)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCreateTaskDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &types.Task{
		Title:     "[TODO] handle timeout",
		Source:    types.SourceCodeComment,
		SourceRef: "server.go:42",
	}
	require.NoError(t, s.CreateTask(ctx, first))

	dup := &types.Task{
		Title:     "[TODO] handle timeout",
		Source:    types.SourceCodeComment,
		SourceRef: "server.go:42",
	}
	assert.ErrorIs(t, s.CreateTask(ctx, dup), ErrDuplicateTask)

	// Same ref under a different source is a different key.
	other := &types.Task{
		Title:     "handle timeout",
		Source:    types.SourceQueueFile,
		SourceRef: "server.go:42",
	}
	assert.NoError(t, s.CreateTask(ctx, other))

	// Empty source_ref never collides (manual tasks).
	for i := 0; i < 2; i++ {
		m := &types.Task{Title: "manual", Source: types.SourceManual}
		assert.NoError(t, s.CreateTask(ctx, m))
	}
}

func TestClaimNextPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := &types.Task{Title: "low", Source: types.SourceManual, Priority: 20}
	high := &types.Task{Title: "high", Source: types.SourceManual, Priority: 80}
	tie := &types.Task{Title: "tie", Source: types.SourceManual, Priority: 80}
	require.NoError(t, s.CreateTask(ctx, low))
	require.NoError(t, s.CreateTask(ctx, high))
	require.NoError(t, s.CreateTask(ctx, tie))

	// Highest priority wins; FIFO on ties means "high" (created first).
	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "high", claimed.Title)
	assert.Equal(t, types.StatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	// At-most-one-running: a second claim yields nothing while the first runs.
	second, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	// After the first finishes, the tie-breaker task is claimable.
	require.NoError(t, s.FinishTask(ctx, claimed.ID, types.StatusCompleted, "done", 0.05))
	second, err = s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "tie", second.Title)
}

func TestClaimNextPendingEmpty(t *testing.T) {
	s := newTestStore(t)
	claimed, err := s.ClaimNextPending(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestTransitionLegality(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "t", Source: types.SourceManual}
	require.NoError(t, s.CreateTask(ctx, task))

	// pending -> completed is illegal.
	err := s.UpdateTaskStatus(ctx, task.ID, types.StatusCompleted)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)

	require.NoError(t, s.FinishTask(ctx, task.ID, types.StatusCompleted, "ok", 0.01))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, types.StatusAwaitingReview))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, types.StatusMerged))

	// merged is terminal.
	err = s.UpdateTaskStatus(ctx, task.ID, types.StatusPending)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestBranchInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "feature work", Source: types.SourceManual}
	require.NoError(t, s.CreateTask(ctx, task))
	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetTaskBranch(ctx, claimed.ID, "assistant/feature-work-1"))

	// Failure clears the branch.
	require.NoError(t, s.FinishTask(ctx, claimed.ID, types.StatusFailed, "boom", 0))
	got, err := s.GetTask(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BranchName)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.NotNil(t, got.FinishedAt)
}

func TestSweepOrphanRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "orphan", Source: types.SourceManual}
	require.NoError(t, s.CreateTask(ctx, task))
	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetTaskBranch(ctx, claimed.ID, "assistant/orphan-1"))

	n, err := s.SweepOrphanRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetTask(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Empty(t, got.BranchName)
	assert.Nil(t, got.StartedAt)

	// Swept task is claimable again.
	again, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, claimed.ID, again.ID)
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "t", Source: types.SourceManual}
	require.NoError(t, s.CreateTask(ctx, task))
	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteTask(ctx, claimed.ID), ErrTaskBusy)

	require.NoError(t, s.FinishTask(ctx, claimed.ID, types.StatusFailed, "", 0))
	assert.NoError(t, s.DeleteTask(ctx, claimed.ID))
	_, err = s.GetTask(ctx, claimed.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestReleaseTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "t", Source: types.SourceManual}
	require.NoError(t, s.CreateTask(ctx, task))
	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, s.ReleaseTask(ctx, claimed.ID))
	got, err := s.GetTask(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	// Only a claimed task can be released.
	assert.ErrorIs(t, s.ReleaseTask(ctx, claimed.ID), ErrTaskNotFound)
}

func TestUpdateTaskPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "t", Source: types.SourceManual, Priority: 40}
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, s.UpdateTaskPriority(ctx, task.ID, 90))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, got.Priority)

	assert.Error(t, s.UpdateTaskPriority(ctx, task.ID, 101))
	assert.ErrorIs(t, s.UpdateTaskPriority(ctx, 9999, 50), ErrTaskNotFound)
}

func TestQuotaWindowRoll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.GetQuotaWindow(ctx)
	require.NoError(t, err)
	require.NoError(t, s.RecordQuotaConsumption(ctx, types.ModelSonnet, 10))

	// Not due yet.
	rolled, err := s.RollQuotaWindowIfDue(ctx, w.StartedAt.Add(4*time.Hour), 5*time.Hour)
	require.NoError(t, err)
	assert.False(t, rolled)

	w2, err := s.GetQuotaWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, w2.Consumed[types.ModelSonnet])

	// 12h later with a 5h window: advance by two whole windows, reset counts.
	rolled, err = s.RollQuotaWindowIfDue(ctx, w.StartedAt.Add(12*time.Hour), 5*time.Hour)
	require.NoError(t, err)
	assert.True(t, rolled)

	w3, err := s.GetQuotaWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, w3.Consumed[types.ModelSonnet])
	assert.Equal(t, w.StartedAt.Add(10*time.Hour).Unix(), w3.StartedAt.Unix())
	assert.Nil(t, w3.LastCorrectionAt)
}

func TestQuotaConsumptionAndCorrection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordQuotaConsumption(ctx, types.ModelHaiku, 3))
	require.NoError(t, s.RecordQuotaConsumption(ctx, types.ModelHaiku, 1))
	// Refund below zero clamps.
	require.NoError(t, s.RecordQuotaConsumption(ctx, types.ModelHaiku, -10))

	w, err := s.GetQuotaWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Consumed[types.ModelHaiku])

	now := time.Now()
	require.NoError(t, s.SetQuotaCorrection(ctx, types.ModelSonnet, 42, now))
	w, err = s.GetQuotaWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, w.Consumed[types.ModelSonnet])
	require.NotNil(t, w.LastCorrectionAt)
}

func TestUsageSamplesAndLastActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastActiveAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.RecordUsageSample(ctx, base, true))
	require.NoError(t, s.RecordUsageSample(ctx, base.Add(10*time.Minute), false))
	require.NoError(t, s.RecordUsageSample(ctx, base.Add(20*time.Minute), true))
	require.NoError(t, s.RecordUsageSample(ctx, base.Add(30*time.Minute), false))

	at, ok, err := s.LastActiveAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base.Add(20*time.Minute).Unix(), at.Unix())

	samples, err := s.SamplesSince(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, samples, 3)

	n, err := s.PruneSamplesBefore(ctx, base.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDailyAutonomousCost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.RecordUsage(ctx, types.UsageRecord{
		Timestamp: now, Model: types.ModelSonnet, CostUSD: 1.25, Autonomous: true,
	}))
	require.NoError(t, s.RecordUsage(ctx, types.UsageRecord{
		Timestamp: now, Model: types.ModelSonnet, CostUSD: 0.50, Autonomous: true,
	}))
	// Interactive use does not count against the autonomous budget.
	require.NoError(t, s.RecordUsage(ctx, types.UsageRecord{
		Timestamp: now, Model: types.ModelSonnet, CostUSD: 5.00, Autonomous: false,
	}))
	// Yesterday does not count.
	require.NoError(t, s.RecordUsage(ctx, types.UsageRecord{
		Timestamp: now.Add(-25 * time.Hour), Model: types.ModelSonnet, CostUSD: 9.99, Autonomous: true,
	}))

	total, err := s.DailyAutonomousCost(ctx, now)
	require.NoError(t, err)
	assert.InDelta(t, 1.75, total, 1e-9)
}

func TestAutoTemplateCompletionTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastTemplateCompletion(ctx, "run_tests")
	require.NoError(t, err)
	assert.False(t, ok)

	task := &types.Task{
		Title:     "Run test suite",
		Source:    types.SourceAutoTemplate,
		SourceRef: "run_tests:2026-08-24",
	}
	require.NoError(t, s.CreateTask(ctx, task))
	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FinishTask(ctx, claimed.ID, types.StatusCompleted, "all green", 0.02))

	at, ok, err := s.LastTemplateCompletion(ctx, "run_tests")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), at, time.Minute)
}

func TestDaemonMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.GetDaemonMeta(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)

	now := time.Now()
	require.NoError(t, s.SetDaemonMeta(ctx, types.DaemonMeta{
		PID: 1234, InstanceID: "abc", StartedAt: now, LastTickAt: now,
	}))
	require.NoError(t, s.TouchDaemonTick(ctx, now.Add(time.Minute)))

	m, err = s.GetDaemonMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1234, m.PID)
	assert.Equal(t, now.Add(time.Minute).Unix(), m.LastTickAt.Unix())
}
