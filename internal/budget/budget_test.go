package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/store"
	"github.com/wisemagpie/wise-magpie/internal/types"
)

func newTracker(t *testing.T) (*Tracker, *config.Config) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "magpie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cfg := config.Default()
	return New(s, cfg), cfg
}

func TestAdmitsTaskPerTaskCap(t *testing.T) {
	tr, cfg := newTracker(t)
	cfg.Budget.MaxTaskUSD = 2.0
	now := time.Now()

	ok, reason, err := tr.AdmitsTask(context.Background(), now, 1.99)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason, err = tr.AdmitsTask(context.Background(), now, 2.01)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "task cost cap", reason)
}

func TestAdmitsTaskDailyBudget(t *testing.T) {
	tr, cfg := newTracker(t)
	cfg.Budget.MaxTaskUSD = 5.0
	cfg.Budget.MaxDailyUSD = 10.0
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, tr.Record(ctx, types.UsageRecord{
		Timestamp: now, Model: types.ModelSonnet, CostUSD: 8.5, Autonomous: true,
	}))
	// Interactive usage never counts against the autonomous budget.
	require.NoError(t, tr.Record(ctx, types.UsageRecord{
		Timestamp: now, Model: types.ModelSonnet, CostUSD: 50, Autonomous: false,
	}))

	spent, err := tr.DailySpent(ctx, now)
	require.NoError(t, err)
	assert.InDelta(t, 8.5, spent, 1e-9)

	ok, reason, err := tr.AdmitsTask(ctx, now, 1.0)
	require.NoError(t, err)
	assert.True(t, ok, reason)

	ok, reason, err = tr.AdmitsTask(ctx, now, 2.0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "daily budget", reason)
}

func TestDailyBudgetResetsNextDay(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	yesterday := time.Now().Add(-26 * time.Hour)

	require.NoError(t, tr.Record(ctx, types.UsageRecord{
		Timestamp: yesterday, Model: types.ModelOpus, CostUSD: 9.99, Autonomous: true,
	}))

	ok, reason, err := tr.AdmitsTask(ctx, time.Now(), 1.5)
	require.NoError(t, err)
	assert.True(t, ok, reason)
}
